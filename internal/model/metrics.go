package model

import "time"

type DocumentTiming struct {
	DocumentID string    `yaml:"document_id" json:"document_id"`
	StartedAt  time.Time `yaml:"started_at" json:"started_at"`
	EndedAt    time.Time `yaml:"ended_at" json:"ended_at"`
	Success    bool      `yaml:"success" json:"success"`
}

func (d DocumentTiming) Duration() time.Duration {
	if d.StartedAt.IsZero() || d.EndedAt.IsZero() {
		return 0
	}
	return d.EndedAt.Sub(d.StartedAt)
}

// WaveRecord captures one wave. ParallelEfficiency is a percentage:
// summed document durations over wave wall-clock.
type WaveRecord struct {
	Number             int           `yaml:"number" json:"number"`
	DocumentIDs        []string      `yaml:"document_ids" json:"document_ids"`
	Duration           time.Duration `yaml:"duration" json:"duration"`
	ParallelEfficiency float64       `yaml:"parallel_efficiency" json:"parallel_efficiency"`
}

type MetricsSnapshot struct {
	StartedAt     time.Time        `yaml:"started_at" json:"started_at"`
	EndedAt       time.Time        `yaml:"ended_at" json:"ended_at"`
	TotalDuration time.Duration    `yaml:"total_duration" json:"total_duration"`
	Total         int              `yaml:"total" json:"total"`
	Completed     int              `yaml:"completed" json:"completed"`
	Failed        int              `yaml:"failed" json:"failed"`
	Documents     []DocumentTiming `yaml:"documents" json:"documents"`
	Waves         []WaveRecord     `yaml:"waves" json:"waves"`
}
