package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/logging"
	"github.com/aristath/specrunner/internal/scheduler"
)

// ErrNoStore is returned by RunTasks when the runner has no task store.
var ErrNoStore = errors.New("orchestrator: no task store configured")

// RunnerConfig wires a Runner to its collaborators.
type RunnerConfig struct {
	Store    TaskStore        // Required
	Prompts  PromptDispatcher // Conversational backend (llm mode)
	Tools    ToolExecutor     // Command-line backend (cli mode)
	Settings SettingsSource   // Defaults to config.DefaultConfig
	Renderer PromptRenderer   // Defaults to MarkdownRenderer
	Logger   *slog.Logger
}

// Runner walks a batch of tasks in dependency order and hands each eligible
// task to the configured backend. Completion is signalled asynchronously
// through the Notify methods.
type Runner struct {
	store    TaskStore
	prompts  PromptDispatcher
	tools    ToolExecutor
	settings SettingsSource
	renderer PromptRenderer
	logger   *slog.Logger

	mu          sync.Mutex
	state       RunState
	run         *runContext // Active run, nil when idle
	last        *runContext // Most recent run, for accessors after it finishes
	cliMode     bool
	listeners   []Listener
	outbox      []func()
	done        chan struct{}
	unsubscribe func()

	flushMu sync.Mutex
}

// runContext is the mutable state of one RunTasks call.
type runContext struct {
	id             string
	ctx            context.Context
	cancel         context.CancelFunc
	stopWatch      func() bool
	settings       config.RunSettings
	mode           ExecutionMode
	maxConcurrency int

	order        []scheduler.Task
	position     map[string]int  // key -> index in order
	selectedIDs  map[string]bool // keys of the sorted batch
	completedIDs map[string]bool // keys completed during this run

	index     int
	completed int
	skipped   int

	current   *scheduler.Task  // Sequential in-flight task
	advancing bool             // Sequential walk loop is active
	inFlight  map[string]*gate // Parallel in-flight tasks by key
	failed    bool             // A parallel task failed

	done chan struct{}
}

// NewRunner creates an idle runner and subscribes to store changes when the
// store supports them.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		store:    cfg.Store,
		prompts:  cfg.Prompts,
		tools:    cfg.Tools,
		settings: cfg.Settings,
		renderer: cfg.Renderer,
		logger:   logging.OrDefault(cfg.Logger).With("component", "runner"),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
	close(r.done)

	if r.settings == nil {
		r.settings = StaticSettings(config.DefaultConfig().RunSettings())
	}
	if r.renderer == nil {
		r.renderer = MarkdownRenderer{}
	}
	if n, ok := cfg.Store.(ChangeNotifier); ok {
		r.unsubscribe = n.Subscribe(r.onTaskChanged)
	}
	return r
}

// RunTasks starts a run over batch. It is a no-op when batch is empty or a
// run is already active. A dependency cycle inside the batch aborts the run
// before any listener is notified and is returned as a wrapped
// *scheduler.CycleError.
//
// In sequential mode RunTasks returns once the first task is dispatched. In
// parallel mode the layers are walked on a separate goroutine. Use Done to
// wait for the run to finish. Cancelling ctx cancels the run.
func (r *Runner) RunTasks(ctx context.Context, batch []scheduler.Task) error {
	if len(batch) == 0 {
		return nil
	}
	if r.store == nil {
		return ErrNoStore
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		r.logger.Debug("run already active, ignoring batch", "tasks", len(batch))
		return nil
	}

	known, err := r.store.ListSpecs(ctx)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("list tasks: %w", err)
	}
	order, err := scheduler.Sort(batch, known)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("sort tasks: %w", err)
	}

	rc := r.newRunContext(ctx, order)
	r.run = rc
	r.last = rc
	r.done = rc.done
	r.cliMode = rc.settings.IsCLI()
	r.state = StateRunningTask

	total := len(order)
	r.enqueueLocked(func(l Listener) { l.OnRunStarted(total) })
	r.logger.Info("run started",
		"run_id", rc.id,
		"tasks", total,
		"mode", string(rc.mode),
		"run_mode", rc.settings.RunMode,
	)

	// Armed last so a context that is already cancelled sees a registered run.
	rc.stopWatch = context.AfterFunc(ctx, func() { r.cancelRun(rc, "context cancelled") })
	r.mu.Unlock()

	if rc.mode == ModeParallel {
		layers := scheduler.Layers(order)
		go r.runLayers(rc, layers)
	} else {
		r.advance(rc)
	}
	r.flush()
	return nil
}

func (r *Runner) newRunContext(parent context.Context, order []scheduler.Task) *runContext {
	settings := r.settings.Settings()
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	limit := settings.MaxConcurrency
	if limit <= 0 {
		limit = config.DefaultMaxConcurrency
	}

	rc := &runContext{
		id:             uuid.NewString(),
		ctx:            ctx,
		cancel:         cancel,
		settings:       settings,
		mode:           ParseExecutionMode(settings.ExecutionMode),
		maxConcurrency: limit,
		order:          order,
		position:       make(map[string]int, len(order)),
		selectedIDs:    scheduler.KeySet(order),
		completedIDs:   make(map[string]bool),
		inFlight:       make(map[string]*gate),
		done:           make(chan struct{}),
	}
	for i, t := range order {
		rc.position[scheduler.Key(t.ID)] = i
	}
	return rc
}

// Cancel stops the active run: nothing more is dispatched, command-line
// processes are asked to stop and blocked parallel workers are released.
// The run finishes in StateCancelled. No-op when idle.
func (r *Runner) Cancel() {
	r.mu.Lock()
	rc := r.run
	r.mu.Unlock()
	if rc == nil {
		return
	}
	r.cancelRun(rc, "cancel requested")
}

func (r *Runner) cancelRun(rc *runContext, why string) {
	r.mu.Lock()
	if r.run != rc {
		r.mu.Unlock()
		return
	}
	cli := r.cliMode
	r.logger.Info("cancelling run", "run_id", rc.id, "reason", why)
	r.finishLocked(rc, StateCancelled)
	r.mu.Unlock()

	if cli && r.tools != nil {
		r.tools.CancelAllProcesses()
	}
	r.flush()
}

// NotifyPromptExecutionCompleted reports that the backend finished taskID
// successfully. A blank taskID names the current sequential task. Ignored
// unless the runner is waiting for that task.
func (r *Runner) NotifyPromptExecutionCompleted(taskID string) {
	r.mu.Lock()
	rc := r.run
	if rc == nil || r.state != StateWaitingForCompletion {
		r.mu.Unlock()
		return
	}

	if rc.mode == ModeParallel {
		g := rc.inFlight[scheduler.Key(taskID)]
		r.mu.Unlock()
		if g != nil {
			g.open(gateResult{})
		}
		return
	}

	if !rc.isCurrent(taskID) {
		r.mu.Unlock()
		r.logger.Debug("ignoring completion for task not in flight", "run_id", rc.id, "task_id", taskID)
		return
	}
	task := *rc.current
	r.completeLocked(rc, task, rc.index)
	rc.current = nil
	rc.index++
	r.state = StateRunningTask
	r.mu.Unlock()

	r.advance(rc)
	r.flush()
}

// NotifyCliTaskFailed reports that the command-line process for taskID exited
// with a non-zero code. The task is skipped and the run ends in StateError.
func (r *Runner) NotifyCliTaskFailed(exitCode int, output, taskID string) {
	r.NotifyTaskFailed(taskID, CLIFailureReason(exitCode, output))
}

// NotifyTaskFailed reports that a backend could not complete taskID. The task
// is skipped with reason and the run ends in StateError.
func (r *Runner) NotifyTaskFailed(taskID, reason string) {
	r.mu.Lock()
	rc := r.run
	if rc == nil || r.state != StateWaitingForCompletion {
		r.mu.Unlock()
		return
	}

	if rc.mode == ModeParallel {
		g := rc.inFlight[scheduler.Key(taskID)]
		r.mu.Unlock()
		if g != nil {
			g.open(gateResult{failed: true, reason: reason})
		}
		return
	}

	if !rc.isCurrent(taskID) {
		r.mu.Unlock()
		return
	}
	task := *rc.current
	r.skipLocked(rc, task, rc.index, reason)
	rc.current = nil
	r.finishLocked(rc, StateError)
	r.mu.Unlock()
	r.flush()
}

// Dispose detaches the runner from the store and forces it back to idle
// without notifying listeners.
func (r *Runner) Dispose() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	if rc := r.run; rc != nil {
		rc.cancel()
		if rc.stopWatch != nil {
			rc.stopWatch()
		}
		close(rc.done)
		r.run = nil
	}
	r.state = StateIdle
	r.cliMode = false
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// AddListener registers l. Listeners are notified in registration order.
func (r *Runner) AddListener(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// RemoveListener unregisters l. Events already queued may still reach it.
func (r *Runner) RemoveListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Done returns a channel closed once the latest run has finished and its
// final event has been delivered. It is closed while idle.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run != nil
}

// CurrentTask returns the sequential in-flight task.
func (r *Runner) CurrentTask() (scheduler.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil || r.run.current == nil {
		return scheduler.Task{}, false
	}
	return r.run.current.Clone(), true
}

// TotalTasks, CurrentIndex, CompletedCount and SkippedCount describe the
// active run, or the most recent one once it has finished.
func (r *Runner) TotalTasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return 0
	}
	return len(r.last.order)
}

func (r *Runner) CurrentIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return 0
	}
	return r.last.index
}

func (r *Runner) CompletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return 0
	}
	return r.last.completed
}

func (r *Runner) SkippedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return 0
	}
	return r.last.skipped
}

// RunID returns the id of the active or most recent run.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return ""
	}
	return r.last.id
}

// IsCLIMode reports whether the latest run uses the command-line backend.
func (r *Runner) IsCLIMode() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cliMode
}

// ExecutionMode returns the mode of the active run, or the configured mode when idle.
func (r *Runner) ExecutionMode() ExecutionMode {
	r.mu.Lock()
	rc := r.run
	r.mu.Unlock()
	if rc != nil {
		return rc.mode
	}
	return ParseExecutionMode(r.settings.Settings().ExecutionMode)
}

// InFlightTaskIDs lists the tasks currently waiting on a backend.
func (r *Runner) InFlightTaskIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc := r.run
	if rc == nil {
		return nil
	}
	if rc.current != nil {
		return []string{rc.current.ID}
	}
	ids := make([]string, 0, len(rc.inFlight))
	for _, t := range rc.order {
		if _, ok := rc.inFlight[scheduler.Key(t.ID)]; ok {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (r *Runner) onTaskChanged(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc := r.run
	if rc == nil {
		return
	}
	k := scheduler.Key(taskID)
	if rc.current != nil && scheduler.Key(rc.current.ID) == k {
		r.logger.Debug("in-flight task changed in store", "run_id", rc.id, "task_id", taskID)
		return
	}
	if _, ok := rc.inFlight[k]; ok {
		r.logger.Debug("in-flight task changed in store", "run_id", rc.id, "task_id", taskID)
	}
}

func (rc *runContext) isCurrent(taskID string) bool {
	if rc.current == nil {
		return false
	}
	if strings.TrimSpace(taskID) == "" {
		return true
	}
	return scheduler.Key(taskID) == scheduler.Key(rc.current.ID)
}

// completeLocked counts task as completed and queues the event.
func (r *Runner) completeLocked(rc *runContext, task scheduler.Task, index int) {
	rc.completed++
	rc.completedIDs[scheduler.Key(task.ID)] = true
	total := len(rc.order)
	task = task.Clone()
	r.logger.Info("task completed", "run_id", rc.id, "task_id", task.ID)
	r.enqueueLocked(func(l Listener) { l.OnTaskCompleted(task, index, total) })
}

// skipLocked counts task as skipped and queues the event.
func (r *Runner) skipLocked(rc *runContext, task scheduler.Task, index int, reason string) {
	rc.skipped++
	total := len(rc.order)
	task = task.Clone()
	r.logger.Warn("task skipped", "run_id", rc.id, "task_id", task.ID, "reason", reason)
	r.enqueueLocked(func(l Listener) { l.OnTaskSkipped(task, index, total, reason) })
}

func (r *Runner) startLocked(rc *runContext, task scheduler.Task, index int) {
	total := len(rc.order)
	task = task.Clone()
	r.logger.Info("task dispatched", "run_id", rc.id, "task_id", task.ID, "index", index)
	r.enqueueLocked(func(l Listener) { l.OnTaskStarted(task, index, total) })
}

// finishLocked ends rc in final, queues OnRunFinished and returns to idle.
func (r *Runner) finishLocked(rc *runContext, final RunState) {
	r.state = final
	completed, skipped, total := rc.completed, rc.skipped, len(rc.order)
	r.logger.Info("run finished",
		"run_id", rc.id,
		"state", final.String(),
		"completed", completed,
		"skipped", skipped,
		"total", total,
	)
	r.enqueueLocked(func(l Listener) { l.OnRunFinished(completed, skipped, total, final) })

	rc.cancel()
	if rc.stopWatch != nil {
		rc.stopWatch()
	}
	rc.current = nil
	r.run = nil
	r.state = StateIdle

	done := rc.done
	r.outbox = append(r.outbox, func() { close(done) })
}

// enqueueLocked queues an event for the listeners registered right now.
func (r *Runner) enqueueLocked(fn func(Listener)) {
	ls := append([]Listener(nil), r.listeners...)
	r.outbox = append(r.outbox, func() {
		for _, l := range ls {
			fn(l)
		}
	})
}

// flush delivers queued events. A goroutine already delivering (including
// a listener calling back in) leaves new events to that delivery loop.
func (r *Runner) flush() {
	for {
		if !r.flushMu.TryLock() {
			return
		}
		for {
			r.mu.Lock()
			batch := r.outbox
			r.outbox = nil
			r.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, deliver := range batch {
				deliver()
			}
		}
		r.flushMu.Unlock()

		// Events queued between the last drain and the unlock would
		// otherwise wait for the next transition.
		r.mu.Lock()
		pending := len(r.outbox) > 0
		r.mu.Unlock()
		if !pending {
			return
		}
	}
}
