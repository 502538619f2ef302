package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/specrunner/internal/scheduler"
)

func TestRunTasks_EmptyBatchIsNoop(t *testing.T) {
	h := newHarness(t, llmSettings(), task("TASK-1", scheduler.StatusToDo))

	require.NoError(t, h.runner.RunTasks(context.Background(), nil))

	assert.Equal(t, StateIdle, h.runner.State())
	assert.False(t, h.runner.IsRunning())
	assert.Zero(t, h.runner.TotalTasks())
	assert.Zero(t, h.runner.CompletedCount())
	assert.Zero(t, h.runner.SkippedCount())
	assert.Empty(t, h.rec.all())
}

func TestRunTasks_IgnoredWhileRunning(t *testing.T) {
	t1, t2 := task("TASK-1", scheduler.StatusToDo), task("TASK-2", scheduler.StatusToDo)
	h := newHarness(t, llmSettings(), t1, t2)

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))
	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t2}))

	cur, ok := h.runner.CurrentTask()
	require.True(t, ok)
	assert.Equal(t, "TASK-1", cur.ID)
	assert.Equal(t, []string{"TASK-1"}, h.prompts.submissions())
	assert.Equal(t, 1, h.runner.TotalTasks())
}

func TestRunTasks_AllDone(t *testing.T) {
	t1, t2 := task("TASK-1", scheduler.StatusDone), task("TASK-2", "done")
	h := newHarness(t, llmSettings(), t1, t2)

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t2, t1}))

	assert.Equal(t, []string{
		"run-started 2",
		"completed TASK-1 0/2",
		"completed TASK-2 1/2",
		"finished 2 0 2 ALL_COMPLETED",
	}, h.rec.all())
	assert.Empty(t, h.prompts.submissions())
	assert.Equal(t, StateIdle, h.runner.State())
	assert.False(t, h.runner.IsRunning())
	assert.Equal(t, 2, h.runner.CompletedCount())
}

func TestRunTasks_CycleAbortsBeforeAnyEvent(t *testing.T) {
	t1, t2 := task("TASK-1", scheduler.StatusToDo, "TASK-2"), task("TASK-2", scheduler.StatusToDo, "TASK-1")
	h := newHarness(t, llmSettings(), t1, t2)

	err := h.runner.RunTasks(context.Background(), []scheduler.Task{t1, t2})
	require.Error(t, err)

	var cycleErr *scheduler.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"TASK-1", "TASK-2"}, cycleErr.TaskIDs)
	assert.Empty(t, h.rec.all())
	assert.Equal(t, StateIdle, h.runner.State())
	assert.Empty(t, h.prompts.submissions())
}

func TestSequential_WalksChainOnCompletion(t *testing.T) {
	tasks := []scheduler.Task{
		task("TASK-3", scheduler.StatusToDo, "TASK-2"),
		task("TASK-1", scheduler.StatusToDo),
		task("TASK-2", scheduler.StatusToDo, "TASK-1"),
	}
	h := newHarness(t, llmSettings(), tasks...)

	require.NoError(t, h.runner.RunTasks(context.Background(), tasks))
	assert.Equal(t, StateWaitingForCompletion, h.runner.State())
	assert.Equal(t, []string{"TASK-1"}, h.runner.InFlightTaskIDs())

	h.runner.NotifyPromptExecutionCompleted("TASK-1")
	assert.Equal(t, 1, h.runner.CurrentIndex())
	h.runner.NotifyPromptExecutionCompleted("task-2")
	h.runner.NotifyPromptExecutionCompleted("")

	assert.Equal(t, []string{
		"run-started 3",
		"started TASK-1 0/3",
		"completed TASK-1 0/3",
		"started TASK-2 1/3",
		"completed TASK-2 1/3",
		"started TASK-3 2/3",
		"completed TASK-3 2/3",
		"finished 3 0 3 ALL_COMPLETED",
	}, h.rec.all())
	assert.Equal(t, []string{"TASK-1", "TASK-2", "TASK-3"}, h.prompts.submissions())

	h.prompts.mu.Lock()
	assert.Equal(t, 3, h.prompts.memoryResets)
	assert.Equal(t, 3, h.prompts.fileResets)
	assert.Equal(t, []string{"demo", "demo", "demo"}, h.prompts.projects)
	h.prompts.mu.Unlock()

	assert.False(t, h.runner.IsRunning())
	assert.Equal(t, 3, h.runner.CompletedCount())
}

func TestSequential_IgnoresNotificationsForOtherTasks(t *testing.T) {
	t1, t2 := task("TASK-1", scheduler.StatusToDo), task("TASK-2", scheduler.StatusToDo)
	h := newHarness(t, llmSettings(), t1, t2)

	// Idle runner ignores notifications.
	h.runner.NotifyPromptExecutionCompleted("TASK-1")
	h.runner.NotifyCliTaskFailed(1, "boom", "TASK-1")
	assert.Empty(t, h.rec.all())

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1, t2}))
	h.runner.NotifyPromptExecutionCompleted("TASK-2")
	h.runner.NotifyCliTaskFailed(1, "boom", "TASK-2")

	cur, ok := h.runner.CurrentTask()
	require.True(t, ok)
	assert.Equal(t, "TASK-1", cur.ID)
	assert.Equal(t, []string{"run-started 2", "started TASK-1 0/2"}, h.rec.all())
}

func TestSequential_SkipsMissingTask(t *testing.T) {
	t1, t2 := task("TASK-1", scheduler.StatusToDo), task("TASK-2", scheduler.StatusToDo)
	h := newHarness(t, llmSettings(), t1, t2)

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1, t2, task("TASK-5", scheduler.StatusToDo)}))
	h.store.remove("TASK-2")
	h.runner.NotifyPromptExecutionCompleted("TASK-1")

	assert.Equal(t, []string{
		"run-started 3",
		"started TASK-1 0/3",
		"completed TASK-1 0/3",
		"skipped TASK-2 1/3: task not found",
		"skipped TASK-5 2/3: task not found",
		"finished 1 2 3 ALL_COMPLETED",
	}, h.rec.all())
}

func TestSequential_StoreErrorCountsAsMissing(t *testing.T) {
	t1 := task("TASK-1", scheduler.StatusToDo)
	h := newHarness(t, llmSettings(), t1)
	h.store.getErr = errors.New("disk on fire")

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))

	assert.Equal(t, []string{
		"run-started 1",
		"skipped TASK-1 0/1: task not found",
		"finished 0 1 1 ALL_COMPLETED",
	}, h.rec.all())
}

func TestSequential_DependencyChecks(t *testing.T) {
	tests := []struct {
		name  string
		store []scheduler.Task
		want  []string
	}{
		{
			name: "unsatisfied dependencies are named",
			store: []scheduler.Task{
				task("TASK-1", scheduler.StatusToDo),
				task("TASK-2", scheduler.StatusToDo, "task-1", "TASK-9"),
			},
			want: []string{
				"run-started 1",
				"skipped TASK-2 0/1: unsatisfied dependencies: TASK-1, TASK-9",
				"finished 0 1 1 ALL_COMPLETED",
			},
		},
		{
			name: "external done dependency is satisfied",
			store: []scheduler.Task{
				task("TASK-1", scheduler.StatusDone),
				task("TASK-2", scheduler.StatusToDo, "TASK-1"),
			},
			want: []string{
				"run-started 1",
				"started TASK-2 0/1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, llmSettings(), tt.store...)
			require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{task("TASK-2", scheduler.StatusToDo)}))
			assert.Equal(t, tt.want, h.rec.all())
		})
	}
}

func TestSequential_SkippedDependencyBlocksDependents(t *testing.T) {
	t1 := task("TASK-1", scheduler.StatusToDo, "TASK-99")
	t2 := task("TASK-2", scheduler.StatusToDo, "TASK-1")
	h := newHarness(t, llmSettings(), t1, t2)

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1, t2}))

	assert.Equal(t, []string{
		"run-started 2",
		"skipped TASK-1 0/2: unsatisfied dependencies: TASK-99",
		"skipped TASK-2 1/2: unsatisfied dependencies: TASK-1",
		"finished 0 2 2 ALL_COMPLETED",
	}, h.rec.all())
}

func TestSequential_CLIFailureEndsRun(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		output string
		reason string
	}{
		{name: "output trimmed", code: 1, output: "  auth failed\n", reason: "CLI tool failed with exit code 1: auth failed"},
		{name: "blank output", code: 137, output: " \n", reason: "CLI tool failed with exit code 137: Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t1, t2 := task("TASK-1", scheduler.StatusToDo), task("TASK-2", scheduler.StatusToDo)
			h := newHarness(t, cliSettings("claude", true), t1, t2)

			require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1, t2}))
			assert.True(t, h.runner.IsCLIMode())
			assert.Equal(t, "TASK-1", receive(t, h.tools.ch))

			h.runner.NotifyCliTaskFailed(tt.code, tt.output, "TASK-1")

			assert.Equal(t, []string{
				"run-started 2",
				"started TASK-1 0/2",
				"skipped TASK-1 0/2: " + tt.reason,
				"finished 0 1 2 ERROR",
			}, h.rec.all())
			assert.False(t, h.runner.IsRunning())
			assert.Equal(t, []string{"claude"}, h.tools.tools)
			assert.Empty(t, h.prompts.submissions())
		})
	}
}

func TestSequential_CLIToolResolution(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		enabled bool
		reason  string
	}{
		{name: "no tool selected", tool: " ", enabled: true, reason: "no CLI tool selected"},
		{name: "unknown tool", tool: "codex", enabled: true, reason: "CLI tool not found: codex"},
		{name: "disabled tool", tool: "claude", enabled: false, reason: "CLI tool disabled: claude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t1 := task("TASK-1", scheduler.StatusToDo)
			h := newHarness(t, cliSettings(tt.tool, tt.enabled), t1)

			require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))

			assert.Equal(t, []string{
				"run-started 1",
				"skipped TASK-1 0/1: " + tt.reason,
				"finished 0 1 1 ALL_COMPLETED",
			}, h.rec.all())
			assert.Empty(t, h.tools.executed)
		})
	}
}

func TestSequential_DispatchErrorFailsRun(t *testing.T) {
	t1 := task("TASK-1", scheduler.StatusToDo)
	h := newHarness(t, llmSettings(), t1)
	h.prompts.err = errors.New("bus closed")

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))

	assert.Equal(t, []string{
		"run-started 1",
		"started TASK-1 0/1",
		"skipped TASK-1 0/1: dispatch failed: bus closed",
		"finished 0 1 1 ERROR",
	}, h.rec.all())
}

func TestSequential_NotifyTaskFailed(t *testing.T) {
	t1 := task("TASK-1", scheduler.StatusToDo)
	h := newHarness(t, llmSettings(), t1)

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))
	h.runner.NotifyTaskFailed("TASK-1", "model unavailable")

	assert.Equal(t, "skipped TASK-1 0/1: model unavailable", h.rec.all()[2])
	assert.Equal(t, "finished 0 1 1 ERROR", h.rec.all()[3])
}

func TestSequential_SynchronousCompletion(t *testing.T) {
	var tasks []scheduler.Task
	for i := 1; i <= 50; i++ {
		tasks = append(tasks, task(fmt.Sprintf("TASK-%d", i), scheduler.StatusToDo))
	}
	h := newHarness(t, llmSettings(), tasks...)
	h.prompts.onSubmit = h.runner.NotifyPromptExecutionCompleted

	require.NoError(t, h.runner.RunTasks(context.Background(), tasks))

	events := h.rec.all()
	require.Len(t, events, 2+2*50)
	assert.Equal(t, "started TASK-1 0/50", events[1])
	assert.Equal(t, "completed TASK-1 0/50", events[2])
	assert.Equal(t, "started TASK-2 1/50", events[3])
	assert.Equal(t, "finished 50 0 50 ALL_COMPLETED", events[len(events)-1])
}

func TestSequential_ListenerMayCallBack(t *testing.T) {
	tasks := []scheduler.Task{task("TASK-1", scheduler.StatusToDo), task("TASK-2", scheduler.StatusToDo, "TASK-1")}
	h := newHarness(t, llmSettings(), tasks...)
	h.runner.AddListener(&ListenerFuncs{
		TaskStarted: func(t scheduler.Task, _, _ int) {
			h.runner.NotifyPromptExecutionCompleted(t.ID)
		},
	})

	require.NoError(t, h.runner.RunTasks(context.Background(), tasks))

	assert.Equal(t, []string{
		"run-started 2",
		"started TASK-1 0/2",
		"completed TASK-1 0/2",
		"started TASK-2 1/2",
		"completed TASK-2 1/2",
		"finished 2 0 2 ALL_COMPLETED",
	}, h.rec.all())
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name        string
		cli         bool
		wantCancels int
	}{
		{name: "conversational backend", cli: false, wantCancels: 0},
		{name: "command-line backend", cli: true, wantCancels: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := llmSettings()
			if tt.cli {
				settings = cliSettings("claude", true)
			}
			t1 := task("TASK-1", scheduler.StatusToDo)
			h := newHarness(t, settings, t1)

			require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))
			require.Equal(t, StateWaitingForCompletion, h.runner.State())

			h.runner.Cancel()
			waitDone(t, h.runner)

			assert.Equal(t, "finished 0 0 1 CANCELLED", h.rec.all()[len(h.rec.all())-1])
			assert.False(t, h.runner.IsRunning())
			assert.Equal(t, StateIdle, h.runner.State())
			assert.Equal(t, tt.wantCancels, h.tools.cancelCount())

			// Late notifications after cancel change nothing.
			before := len(h.rec.all())
			h.runner.NotifyPromptExecutionCompleted("TASK-1")
			h.runner.Cancel()
			assert.Len(t, h.rec.all(), before)
		})
	}
}

func TestCancel_ContextCancellation(t *testing.T) {
	t1 := task("TASK-1", scheduler.StatusToDo)
	h := newHarness(t, llmSettings(), t1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.runner.RunTasks(ctx, []scheduler.Task{t1}))
	cancel()
	waitDone(t, h.runner)

	assert.Equal(t, "finished 0 0 1 CANCELLED", h.rec.all()[len(h.rec.all())-1])
}

func TestListeners(t *testing.T) {
	t1 := task("TASK-1", scheduler.StatusDone)
	h := newHarness(t, llmSettings(), t1)

	second := &recorder{}
	removed := &recorder{}
	h.runner.AddListener(second)
	h.runner.AddListener(removed)
	h.runner.AddListener(nil)
	h.runner.RemoveListener(removed)

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))

	assert.Equal(t, h.rec.all(), second.all())
	assert.Len(t, second.all(), 3)
	assert.Empty(t, removed.all())
}

func TestDispose(t *testing.T) {
	t1 := task("TASK-1", scheduler.StatusToDo)
	h := newHarness(t, cliSettings("claude", true), t1)
	assert.Equal(t, 1, h.store.subscribed)

	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))
	h.runner.Dispose()
	waitDone(t, h.runner)

	assert.Equal(t, StateIdle, h.runner.State())
	assert.False(t, h.runner.IsRunning())
	assert.False(t, h.runner.IsCLIMode())
	assert.Equal(t, 1, h.store.unsubscribed)
	assert.Equal(t, []string{"run-started 1", "started TASK-1 0/1"}, h.rec.all())

	// A disposed runner can start over.
	require.NoError(t, h.runner.RunTasks(context.Background(), []scheduler.Task{t1}))
	assert.True(t, h.runner.IsRunning())
}

func TestExecutionModeAccessor(t *testing.T) {
	settings := llmSettings()
	settings.ExecutionMode = "Parallel"
	h := newHarness(t, settings)
	assert.Equal(t, ModeParallel, h.runner.ExecutionMode())

	h = newHarness(t, llmSettings())
	assert.Equal(t, ModeSequential, h.runner.ExecutionMode())
}

func TestRunTasks_NoStore(t *testing.T) {
	r := NewRunner(RunnerConfig{})
	err := r.RunTasks(context.Background(), []scheduler.Task{task("TASK-1", scheduler.StatusToDo)})
	assert.ErrorIs(t, err, ErrNoStore)
}
