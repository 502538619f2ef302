package orchestrator

import "strings"

// RunState is the lifecycle state of the runner.
type RunState int

const (
	StateIdle RunState = iota
	StateRunningTask
	StateWaitingForCompletion
	StateAllCompleted
	StateCancelled
	StateError
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunningTask:
		return "RUNNING_TASK"
	case StateWaitingForCompletion:
		return "WAITING_FOR_COMPLETION"
	case StateAllCompleted:
		return "ALL_COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether a run can finish in s.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateAllCompleted, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// ExecutionMode selects how the sorted order is walked.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// ParseExecutionMode maps a configured string onto a mode. Anything that is
// not "parallel" runs sequentially.
func ParseExecutionMode(s string) ExecutionMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeParallel)) {
		return ModeParallel
	}
	return ModeSequential
}
