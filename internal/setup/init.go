// Package setup scaffolds a docflow project directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/msageha/docflow/internal/model"
	dfyaml "github.com/msageha/docflow/internal/yaml"
	"github.com/msageha/docflow/templates"
)

const ConfigFile = "docflow.yaml"

// Run writes a default config, catalog and example request into projectDir.
// It refuses to overwrite an existing config.
func Run(projectDir string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	configPath := filepath.Join(absDir, ConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	cfg, err := templateConfig()
	if err != nil {
		return err
	}

	dirs := []string{
		cfg.Output.Dir,
		cfg.Status.Dir,
		filepath.Dir(cfg.Logging.File),
		filepath.Join(cfg.Watch.Dir, "processed"),
		filepath.Join(cfg.Watch.Dir, "failed"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	files := map[string]string{
		ConfigFile:             configPath,
		"catalog.yaml":         filepath.Join(absDir, cfg.Catalog.Path),
		"example_request.yaml": filepath.Join(absDir, cfg.Watch.Dir, "example.yaml.sample"),
	}
	for src, dst := range files {
		if err := copyTemplateFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// templateConfig parses the embedded config so directory names follow it.
func templateConfig() (model.Config, error) {
	data, err := fs.ReadFile(templates.FS, ConfigFile)
	if err != nil {
		return model.Config{}, fmt.Errorf("read config template: %w", err)
	}
	cfg, err := model.ParseConfig(data)
	if err != nil {
		return model.Config{}, fmt.Errorf("config template: %w", err)
	}
	return cfg, nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := dfyaml.AtomicWriteRaw(dst, data); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
