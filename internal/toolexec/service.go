// Package toolexec runs command-line tools for the runner and reports how
// each invocation ended.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/specrunner/internal/backend"
	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/events"
	"github.com/aristath/specrunner/internal/logging"
)

// Notifier receives the outcome of each invocation.
type Notifier interface {
	NotifyPromptExecutionCompleted(taskID string)
	NotifyCliTaskFailed(exitCode int, output, taskID string)
}

// Factory builds a backend for a tool.
type Factory func(cfg backend.Config, pm *backend.ProcessManager) (backend.Backend, error)

// Config configures a Service.
type Config struct {
	WorkDir        string
	ProcessManager *backend.ProcessManager // Created when nil
	Bus            *events.EventBus        // Optional; receives TaskOutputEvents
	Logger         *slog.Logger
	Factory        Factory // Defaults to backend.New
}

// Service starts tool invocations in the background.
type Service struct {
	workDir string
	pm      *backend.ProcessManager
	bus     *events.EventBus
	logger  *slog.Logger
	factory Factory

	mu       sync.Mutex
	notifier Notifier
	running  map[uint64]*execution
	nextID   uint64
	wg       sync.WaitGroup
}

type execution struct {
	taskID    string
	cancel    context.CancelFunc
	cancelled bool
}

// New creates a Service. Call Bind before the first Execute.
func New(cfg Config) *Service {
	s := &Service{
		workDir: cfg.WorkDir,
		pm:      cfg.ProcessManager,
		bus:     cfg.Bus,
		logger:  logging.OrDefault(cfg.Logger).With("component", "toolexec"),
		factory: cfg.Factory,
		running: make(map[uint64]*execution),
	}
	if s.pm == nil {
		s.pm = backend.NewProcessManager()
	}
	if s.factory == nil {
		s.factory = backend.New
	}
	return s
}

// Bind sets the receiver of invocation outcomes.
func (s *Service) Bind(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// Execute starts tool on prompt and returns once the process is launched in
// the background. The outcome is reported to the bound Notifier unless the
// invocation is cancelled first.
func (s *Service) Execute(ctx context.Context, tool config.ToolConfig, prompt, taskID, title string) error {
	b, err := s.factory(backend.ConfigFromTool(tool, s.workDir), s.pm)
	if err != nil {
		return fmt.Errorf("create backend for tool %s: %w", tool.Name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	ex := &execution{taskID: taskID, cancel: cancel}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.running[id] = ex
	s.mu.Unlock()

	inv := backend.Invocation{
		TaskID: taskID,
		Title:  title,
		Prompt: prompt,
		OnLine: s.publishLine(taskID),
	}

	s.logger.Info("starting tool", "task_id", taskID, "tool", tool.Name, "type", b.Name())
	s.wg.Add(1)
	go s.run(runCtx, id, ex, b, inv)
	return nil
}

func (s *Service) run(ctx context.Context, id uint64, ex *execution, b backend.Backend, inv backend.Invocation) {
	defer s.wg.Done()
	defer ex.cancel()

	start := time.Now()
	res, err := b.Run(ctx, inv)

	s.mu.Lock()
	delete(s.running, id)
	cancelled := ex.cancelled || ctx.Err() != nil
	n := s.notifier
	s.mu.Unlock()

	log := s.logger.With("task_id", inv.TaskID, "duration", time.Since(start))
	if cancelled {
		log.Info("tool cancelled")
		return
	}
	if n == nil {
		log.Warn("tool finished with no notifier bound")
		return
	}

	var exitErr *backend.ExitError
	switch {
	case err == nil:
		log.Info("tool finished", "output_bytes", len(res.Output))
		n.NotifyPromptExecutionCompleted(inv.TaskID)
	case errors.As(err, &exitErr):
		log.Warn("tool failed", "exit_code", exitErr.Code)
		n.NotifyCliTaskFailed(exitErr.Code, exitErr.Output, inv.TaskID)
	default:
		log.Error("tool could not run", "error", err)
		n.NotifyCliTaskFailed(-1, err.Error(), inv.TaskID)
	}
}

func (s *Service) publishLine(taskID string) func(string) {
	if s.bus == nil {
		return nil
	}
	return func(line string) {
		s.bus.Publish(events.TopicTask, events.TaskOutputEvent{ID: taskID, Line: line, Timestamp: time.Now()})
	}
}

// CancelAllProcesses cancels every running invocation and kills the tracked
// process groups. Cancelled invocations report nothing.
func (s *Service) CancelAllProcesses() {
	s.mu.Lock()
	for _, ex := range s.running {
		ex.cancelled = true
		ex.cancel()
	}
	n := len(s.running)
	s.mu.Unlock()

	if err := s.pm.KillAll(); err != nil {
		s.logger.Warn("killing tool processes", "error", err)
	}
	if n > 0 {
		s.logger.Info("cancelled tool invocations", "count", n)
	}
}

// Running returns the number of invocations still in progress.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Wait blocks until every started invocation has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}
