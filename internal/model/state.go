package model

import "time"

// TaskState tracks one document through a single run.
type TaskState struct {
	DocumentID  string     `yaml:"document_id"`
	Status      TaskStatus `yaml:"status"`
	Content     string     `yaml:"-"`
	OutputRef   string     `yaml:"output_ref,omitempty"`
	Error       string     `yaml:"error,omitempty"`
	CreatedAt   time.Time  `yaml:"created_at"`
	StartedAt   time.Time  `yaml:"started_at,omitempty"`
	CompletedAt time.Time  `yaml:"completed_at,omitempty"`
}

func NewTaskState(documentID string, now time.Time) *TaskState {
	return &TaskState{
		DocumentID: documentID,
		Status:     TaskPending,
		CreatedAt:  now,
	}
}

// Transition moves the task to the next status, stamping start/end times.
func (s *TaskState) Transition(to TaskStatus, at time.Time) error {
	if err := ValidateTaskTransition(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	switch to {
	case TaskInProgress:
		s.StartedAt = at
	case TaskCompleted, TaskFailed:
		s.CompletedAt = at
	}
	return nil
}

// Duration is zero until the task reaches a terminal status.
func (s *TaskState) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
