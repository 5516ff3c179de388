package model

import "time"

// DocumentResult is the finalized output of one completed document.
type DocumentResult struct {
	Content     string         `yaml:"-" json:"content"`
	OutputRef   string         `yaml:"output_ref" json:"output_ref"`
	GeneratedAt time.Time      `yaml:"generated_at" json:"generated_at"`
	Quality     *QualityReport `yaml:"quality,omitempty" json:"quality,omitempty"`
}

type DocumentMetadata struct {
	ID        string     `yaml:"id" json:"id"`
	Name      string     `yaml:"name" json:"name"`
	Category  string     `yaml:"category" json:"category"`
	Status    TaskStatus `yaml:"status" json:"status"`
	OutputRef string     `yaml:"output_ref,omitempty" json:"output_ref,omitempty"`
	Error     string     `yaml:"error,omitempty" json:"error,omitempty"`
}

type WorkflowSummary struct {
	Total      int             `yaml:"total" json:"total"`
	Completed  int             `yaml:"completed" json:"completed"`
	Failed     int             `yaml:"failed" json:"failed"`
	Unresolved int             `yaml:"unresolved" json:"unresolved"`
	Status     RunStatus       `yaml:"status" json:"status"`
	Message    string          `yaml:"message" json:"message"`
	Metrics    MetricsSnapshot `yaml:"metrics" json:"metrics"`
}

type WorkflowResult struct {
	RunID     string                    `yaml:"run_id" json:"run_id"`
	Plan      ExecutionPlan             `yaml:"plan" json:"plan"`
	Documents map[string]DocumentResult `yaml:"documents" json:"documents"`
	Metadata  []DocumentMetadata        `yaml:"metadata" json:"metadata"`
	Completed []string                  `yaml:"completed" json:"completed"`
	Failed    []string                  `yaml:"failed" json:"failed"`
	Summary   WorkflowSummary           `yaml:"summary" json:"summary"`
}

// RunRecord is the persisted status of a run.
type RunRecord struct {
	SchemaVersion int                       `yaml:"schema_version"`
	FileType      string                    `yaml:"file_type"`
	RunID         string                    `yaml:"run_id"`
	Status        RunStatus                 `yaml:"status"`
	CompletedIDs  []string                  `yaml:"completed_ids"`
	Results       map[string]DocumentResult `yaml:"results,omitempty"`
	Error         string                    `yaml:"error,omitempty"`
	UpdatedAt     string                    `yaml:"updated_at"`
}
