package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/logging"
	"github.com/aristath/specrunner/internal/scheduler"
)

type fakeStore struct {
	mu           sync.Mutex
	tasks        map[string]scheduler.Task
	getErr       error
	subscribed   int
	unsubscribed int
}

func newFakeStore(tasks ...scheduler.Task) *fakeStore {
	s := &fakeStore{tasks: make(map[string]scheduler.Task)}
	for _, t := range tasks {
		s.tasks[scheduler.Key(t.ID)] = t
	}
	return s
}

func (s *fakeStore) GetSpec(_ context.Context, id string) (scheduler.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return scheduler.Task{}, false, s.getErr
	}
	t, ok := s.tasks[scheduler.Key(id)]
	return t, ok, nil
}

func (s *fakeStore) ListSpecs(_ context.Context) ([]scheduler.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduler.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) Subscribe(fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unsubscribed++
	}
}

func (s *fakeStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, scheduler.Key(id))
}

type fakePrompts struct {
	mu           sync.Mutex
	submitted    []string
	projects     []string
	memoryResets int
	fileResets   int
	err          error
	onSubmit     func(taskID string)
	ch           chan string
}

func newFakePrompts() *fakePrompts {
	return &fakePrompts{ch: make(chan string, 100)}
}

func (p *fakePrompts) SubmitPrompt(_ context.Context, project, taskID, prompt string) error {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return p.err
	}
	p.submitted = append(p.submitted, taskID)
	p.projects = append(p.projects, project)
	hook := p.onSubmit
	p.mu.Unlock()

	p.ch <- taskID
	if hook != nil {
		hook(taskID)
	}
	return nil
}

func (p *fakePrompts) ResetMemory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memoryResets++
}

func (p *fakePrompts) ResetFileContext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fileResets++
}

func (p *fakePrompts) submissions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.submitted...)
}

type fakeTools struct {
	mu        sync.Mutex
	executed  []string
	tools     []string
	cancelled int
	ch        chan string
}

func newFakeTools() *fakeTools {
	return &fakeTools{ch: make(chan string, 100)}
}

func (f *fakeTools) Execute(_ context.Context, tool config.ToolConfig, prompt, taskID, title string) error {
	f.mu.Lock()
	f.executed = append(f.executed, taskID)
	f.tools = append(f.tools, tool.Name)
	f.mu.Unlock()
	f.ch <- taskID
	return nil
}

func (f *fakeTools) CancelAllProcesses() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeTools) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// recorder captures listener events as compact strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) OnRunStarted(total int) { r.add("run-started %d", total) }
func (r *recorder) OnTaskStarted(t scheduler.Task, index, total int) {
	r.add("started %s %d/%d", t.ID, index, total)
}
func (r *recorder) OnTaskCompleted(t scheduler.Task, index, total int) {
	r.add("completed %s %d/%d", t.ID, index, total)
}
func (r *recorder) OnTaskSkipped(t scheduler.Task, index, total int, reason string) {
	r.add("skipped %s %d/%d: %s", t.ID, index, total, reason)
}
func (r *recorder) OnRunFinished(completed, skipped, total int, state RunState) {
	r.add("finished %d %d %d %s", completed, skipped, total, state)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// indexOf returns the position of the first event with the given prefix, or -1.
func (r *recorder) indexOf(prefix string) int {
	for i, e := range r.all() {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

type harness struct {
	store   *fakeStore
	prompts *fakePrompts
	tools   *fakeTools
	rec     *recorder
	runner  *Runner
}

func llmSettings() config.RunSettings {
	return config.RunSettings{Project: "demo", RunMode: config.RunModeLLM, ExecutionMode: "sequential", MaxConcurrency: 4}
}

func cliSettings(tool string, enabled bool) config.RunSettings {
	s := llmSettings()
	s.RunMode = config.RunModeCLI
	s.CLITool = tool
	s.Tools = []config.ToolConfig{{Name: "claude", Type: "claude", Enabled: enabled}}
	return s
}

func newHarness(t *testing.T, settings config.RunSettings, tasks ...scheduler.Task) *harness {
	t.Helper()
	h := &harness{
		store:   newFakeStore(tasks...),
		prompts: newFakePrompts(),
		tools:   newFakeTools(),
		rec:     &recorder{},
	}
	h.runner = NewRunner(RunnerConfig{
		Store:    h.store,
		Prompts:  h.prompts,
		Tools:    h.tools,
		Settings: StaticSettings(settings),
		Logger:   logging.Discard(),
	})
	h.runner.AddListener(h.rec)
	t.Cleanup(h.runner.Dispose)
	return h
}

func task(id, status string, deps ...string) scheduler.Task {
	return scheduler.Task{ID: id, Title: "Title of " + id, Status: status, Dependencies: deps}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dispatch")
	}
	return ""
}

func expectNone(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case id := <-ch:
		t.Fatalf("unexpected dispatch of %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run to finish")
	}
}
