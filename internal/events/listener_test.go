package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/logging"
	"github.com/aristath/specrunner/internal/orchestrator"
	"github.com/aristath/specrunner/internal/scheduler"
)

type staticInfo struct{}

func (staticInfo) RunID() string                             { return "run-1" }
func (staticInfo) ExecutionMode() orchestrator.ExecutionMode { return orchestrator.ModeParallel }

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBusListenerPublishes(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	all := bus.SubscribeAll(64)

	l := NewBusListener(bus, staticInfo{})
	a := scheduler.Task{ID: "TASK-1", Title: "A"}
	b := scheduler.Task{ID: "TASK-2", Title: "B"}

	l.OnRunStarted(2)
	l.OnTaskStarted(a, 0, 2)
	l.OnTaskCompleted(a, 0, 2)
	l.OnTaskSkipped(b, 1, 2, "Unsatisfied dependencies: TASK-9")
	l.OnRunFinished(1, 1, 2, orchestrator.StateAllCompleted)

	evs := drain(all)
	var types []string
	for _, ev := range evs {
		types = append(types, ev.EventType())
	}
	assert.Equal(t, []string{
		EventTypeRunStarted, EventTypeRunProgress,
		EventTypeTaskStarted, EventTypeRunProgress,
		EventTypeTaskCompleted, EventTypeRunProgress,
		EventTypeTaskSkipped, EventTypeRunProgress,
		EventTypeRunFinished,
	}, types)

	started := evs[0].(RunStartedEvent)
	assert.Equal(t, "run-1", started.RunID)
	assert.Equal(t, "parallel", started.Mode)

	running := evs[3].(RunProgressEvent)
	assert.Equal(t, RunProgressEvent{RunID: "run-1", Total: 2, Running: 1, Pending: 1, Timestamp: running.Timestamp}, running)

	skipped := evs[6].(TaskSkippedEvent)
	assert.Equal(t, "TASK-2", skipped.TaskID())
	assert.Equal(t, "Unsatisfied dependencies: TASK-9", skipped.Reason)

	last := evs[7].(RunProgressEvent)
	assert.Equal(t, 1, last.Completed)
	assert.Equal(t, 1, last.Skipped)
	assert.Equal(t, 0, last.Pending)

	finished := evs[8].(RunFinishedEvent)
	assert.Equal(t, "ALL_COMPLETED", finished.State)
}

func TestBusListenerNilInfo(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(TopicRun, 4)

	NewBusListener(bus, nil).OnRunStarted(0)

	ev := recv(t, ch).(RunStartedEvent)
	assert.Empty(t, ev.RunID)
	assert.Empty(t, ev.Mode)
}

type memStore struct {
	mu    sync.Mutex
	tasks map[string]scheduler.Task
}

func (s *memStore) GetSpec(_ context.Context, id string) (scheduler.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[scheduler.Key(id)]
	return t, ok, nil
}

func (s *memStore) ListSpecs(_ context.Context) ([]scheduler.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduler.Task
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

// echoPrompts completes every prompt as soon as it is submitted.
type echoPrompts struct {
	runner *orchestrator.Runner
}

func (p *echoPrompts) SubmitPrompt(_ context.Context, _, taskID, _ string) error {
	go p.runner.NotifyPromptExecutionCompleted(taskID)
	return nil
}
func (p *echoPrompts) ResetMemory()      {}
func (p *echoPrompts) ResetFileContext() {}

func TestBusListenerWithRunner(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	runSub := bus.Subscribe(TopicRun, 64)

	store := &memStore{tasks: map[string]scheduler.Task{
		"task-1": {ID: "TASK-1"},
		"task-2": {ID: "TASK-2", Dependencies: []string{"TASK-1"}},
	}}
	prompts := &echoPrompts{}
	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Store:    store,
		Prompts:  prompts,
		Settings: orchestrator.StaticSettings(config.RunSettings{RunMode: config.RunModeLLM}),
		Logger:   logging.Discard(),
	})
	defer runner.Dispose()
	prompts.runner = runner
	runner.AddListener(NewBusListener(bus, runner))

	batch, _ := store.ListSpecs(context.Background())
	require.NoError(t, runner.RunTasks(context.Background(), batch))

	select {
	case <-runner.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	var finished *RunFinishedEvent
	for _, ev := range drain(runSub) {
		if f, ok := ev.(RunFinishedEvent); ok {
			finished = &f
		}
	}
	require.NotNil(t, finished, "no RunFinishedEvent")
	assert.Equal(t, 2, finished.Completed)
	assert.Equal(t, "ALL_COMPLETED", finished.State)
	assert.Equal(t, runner.RunID(), finished.RunID)
}
