package model

import "fmt"

// TaskStatus is the lifecycle state of one document inside a run.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// RunStatus is the status reported to the status store.
type RunStatus string

const (
	RunInProgress     RunStatus = "in_progress"
	RunComplete       RunStatus = "complete"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
)

var terminalTaskStatuses = map[TaskStatus]bool{
	TaskCompleted: true,
	TaskFailed:    true,
}

var terminalRunStatuses = map[RunStatus]bool{
	RunComplete:       true,
	RunPartialFailure: true,
	RunFailed:         true,
}

// Task transitions are monotonic: pending → in_progress → completed|failed
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {
		TaskInProgress: true,
	},
	TaskInProgress: {
		TaskCompleted: true,
		TaskFailed:    true,
	},
}

func IsTaskTerminal(s TaskStatus) bool {
	return terminalTaskStatuses[s]
}

func IsRunTerminal(s RunStatus) bool {
	return terminalRunStatuses[s]
}

func ValidateTaskTransition(from, to TaskStatus) error {
	if IsTaskTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}

// FinalRunStatus derives the terminal status of a run.
// complete iff every planned document completed; failed iff nothing completed
// and at least one document failed; partial_failure otherwise.
func FinalRunStatus(planned, completed, failed int) RunStatus {
	switch {
	case planned > 0 && completed == planned:
		return RunComplete
	case completed == 0 && failed > 0:
		return RunFailed
	case planned == 0:
		return RunComplete
	default:
		return RunPartialFailure
	}
}
