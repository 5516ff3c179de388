// Package model defines docflow's configuration, catalog entries, run state and results.
package model

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Catalog    CatalogConfig    `yaml:"catalog"`
	Output     OutputConfig     `yaml:"output"`
	Generation GenerationConfig `yaml:"generation"`
	Quality    QualityConfig    `yaml:"quality"`
	Merge      MergeConfig      `yaml:"merge"`
	Status     StatusConfig     `yaml:"status"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Watch      WatchConfig      `yaml:"watch"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type GenerationConfig struct {
	TimeoutSec int               `yaml:"timeout_sec"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env,omitempty"`
}

type QualityConfig struct {
	Enabled          bool                `yaml:"enabled"`
	AcceptScore      float64             `yaml:"accept_score"`   // structured score needed to skip improvement (1-10)
	OverrideScore    float64             `yaml:"override_score"` // score forced when auto-fail masks a lenient review
	PassScore        float64             `yaml:"pass_score"`     // per sub-score pass threshold (0-100)
	MinWords         int                 `yaml:"min_words"`
	Weights          QualityWeights      `yaml:"weights"`
	Workers          int                 `yaml:"workers"`
	CacheSize        int                 `yaml:"cache_size"`
	CacheTTLSec      int                 `yaml:"cache_ttl_sec"`
	RequiredSections map[string][]string `yaml:"required_sections,omitempty"`
	AutoFail         []AutoFailRule      `yaml:"auto_fail,omitempty"`
}

type QualityWeights struct {
	WordCount   float64 `yaml:"word_count"`
	Sections    float64 `yaml:"sections"`
	Readability float64 `yaml:"readability"`
}

// AutoFailRule is a boolean rule over document content. A rule that holds is a violation.
type AutoFailRule struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	DocTypes    []string `yaml:"doc_types,omitempty"` // empty means every type
	Type        string   `yaml:"type"`                // contains|not_contains|section_present|section_absent|min_words
	Value       string   `yaml:"value"`
}

type MergeConfig struct {
	LengthRatio      float64 `yaml:"length_ratio"`
	SectionRetention float64 `yaml:"section_retention"`
}

type StatusConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type AuditConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type WatchConfig struct {
	Dir         string  `yaml:"dir"`
	DebounceSec float64 `yaml:"debounce_sec"`
}

var validAutoFailTypes = map[string]bool{
	"contains":        true,
	"not_contains":    true,
	"section_present": true,
	"section_absent":  true,
	"min_words":       true,
}

func DefaultConfig() Config {
	return Config{
		Catalog: CatalogConfig{Path: "catalog.yaml"},
		Output:  OutputConfig{Dir: "output"},
		Generation: GenerationConfig{
			TimeoutSec: 30 * 60,
		},
		Quality: QualityConfig{
			Enabled:       true,
			AcceptScore:   7.0,
			OverrideScore: 6.5,
			PassScore:     60,
			MinWords:      300,
			Weights:       QualityWeights{WordCount: 0.3, Sections: 0.4, Readability: 0.3},
			Workers:       4,
			CacheSize:     256,
			CacheTTLSec:   600,
		},
		Merge:   MergeConfig{LengthRatio: 1.2, SectionRetention: 0.8},
		Status:  StatusConfig{Dir: "output/status"},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 10, MaxAgeDays: 30},
		Watch:   WatchConfig{Dir: "requests", DebounceSec: 0.5},
	}
}

// LoadConfig reads a YAML config on top of DefaultConfig. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	errs := &ValidationErrors{}
	if strings.TrimSpace(c.Catalog.Path) == "" {
		errs.Add("catalog.path", "must not be empty")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		errs.Add("output.dir", "must not be empty")
	}
	if c.Generation.TimeoutSec <= 0 {
		errs.Add("generation.timeout_sec", "must be greater than 0")
	}
	q := c.Quality
	if q.AcceptScore < 1 || q.AcceptScore > 10 {
		errs.Add("quality.accept_score", "must be between 1 and 10")
	}
	if q.OverrideScore >= q.AcceptScore {
		errs.Add("quality.override_score", "must be below accept_score")
	}
	if q.Weights.WordCount < 0 || q.Weights.Sections < 0 || q.Weights.Readability < 0 {
		errs.Add("quality.weights", "must not be negative")
	}
	if q.Weights.WordCount+q.Weights.Sections+q.Weights.Readability == 0 {
		errs.Add("quality.weights", "must not all be zero")
	}
	if q.Workers <= 0 {
		errs.Add("quality.workers", "must be greater than 0")
	}
	for i, r := range q.AutoFail {
		if r.ID == "" {
			errs.Add(fmt.Sprintf("quality.auto_fail[%d].id", i), "must not be empty")
		}
		if !validAutoFailTypes[r.Type] {
			errs.Add(fmt.Sprintf("quality.auto_fail[%d].type", i), fmt.Sprintf("unknown rule type %q", r.Type))
		}
	}
	if c.Merge.LengthRatio <= 0 {
		errs.Add("merge.length_ratio", "must be greater than 0")
	}
	if c.Merge.SectionRetention < 0 || c.Merge.SectionRetention > 1 {
		errs.Add("merge.section_retention", "must be between 0 and 1")
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
