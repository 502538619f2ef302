package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicRun  = "run"
	TopicTask = "task"
)

// PromptTopic returns the project-scoped topic prompt submissions are published on.
func PromptTopic(project string) string {
	if project == "" {
		project = "default"
	}
	return "prompt/" + project
}

// Event type constants
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunProgress     = "run.progress"
	EventTypeRunFinished     = "run.finished"
	EventTypeTaskStarted     = "task.started"
	EventTypeTaskOutput      = "task.output"
	EventTypeTaskCompleted   = "task.completed"
	EventTypeTaskSkipped     = "task.skipped"
	EventTypePromptSubmitted = "prompt.submitted"
)

// RunStartedEvent is published when a run begins walking its tasks.
type RunStartedEvent struct {
	RunID     string
	Total     int
	Mode      string
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) TaskID() string    { return "" }

// RunProgressEvent is published whenever the run's counters change.
type RunProgressEvent struct {
	RunID     string
	Total     int
	Completed int
	Skipped   int
	Running   int
	Pending   int
	Timestamp time.Time
}

func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskID() string    { return "" }

// RunFinishedEvent is published once per run with its terminal state.
type RunFinishedEvent struct {
	RunID     string
	Completed int
	Skipped   int
	Total     int
	State     string
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }

// TaskStartedEvent is published when a task is dispatched to a backend.
type TaskStartedEvent struct {
	ID        string
	Title     string
	RunID     string
	Index     int
	Total     int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskOutputEvent is published for each line of output a backend produces.
type TaskOutputEvent struct {
	ID        string
	Line      string
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes or was already done.
type TaskCompletedEvent struct {
	ID        string
	Title     string
	RunID     string
	Index     int
	Total     int
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskSkippedEvent is published when a task is skipped or fails.
type TaskSkippedEvent struct {
	ID        string
	Title     string
	RunID     string
	Index     int
	Total     int
	Reason    string
	Timestamp time.Time
}

func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) TaskID() string    { return e.ID }

// PromptSubmittedEvent carries a rendered task prompt to the conversational backend.
type PromptSubmittedEvent struct {
	ID        string
	Project   string
	Prompt    string
	Files     []string
	Timestamp time.Time
}

func (e PromptSubmittedEvent) EventType() string { return EventTypePromptSubmitted }
func (e PromptSubmittedEvent) TaskID() string    { return e.ID }
