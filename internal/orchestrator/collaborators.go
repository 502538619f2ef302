package orchestrator

import (
	"context"

	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/scheduler"
)

// TaskStore provides live task records.
type TaskStore interface {
	GetSpec(ctx context.Context, id string) (scheduler.Task, bool, error)
	ListSpecs(ctx context.Context) ([]scheduler.Task, error)
}

// ChangeNotifier is implemented by stores that report task changes.
// Subscribe returns a function that removes the subscription.
type ChangeNotifier interface {
	Subscribe(fn func(taskID string)) (unsubscribe func())
}

// PromptDispatcher hands rendered prompts to the conversational backend.
// Completion arrives later through NotifyPromptExecutionCompleted.
type PromptDispatcher interface {
	SubmitPrompt(ctx context.Context, project, taskID, prompt string) error
	ResetMemory()
	ResetFileContext()
}

// ToolExecutor runs command-line tools asynchronously. Completion arrives
// later through NotifyPromptExecutionCompleted or NotifyCliTaskFailed.
type ToolExecutor interface {
	Execute(ctx context.Context, tool config.ToolConfig, prompt, taskID, title string) error
	CancelAllProcesses()
}

// SettingsSource supplies the settings a run reads when it starts.
type SettingsSource interface {
	Settings() config.RunSettings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings config.RunSettings

func (s StaticSettings) Settings() config.RunSettings { return config.RunSettings(s) }

// PromptRenderer turns a task into the context handed to a backend.
type PromptRenderer interface {
	Render(task scheduler.Task) string
}
