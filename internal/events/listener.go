package events

import (
	"sync"
	"time"

	"github.com/aristath/specrunner/internal/orchestrator"
	"github.com/aristath/specrunner/internal/scheduler"
)

// BusListener republishes runner callbacks as bus events, followed by a
// RunProgressEvent for every change in the run's counters.
type BusListener struct {
	bus  *EventBus
	info RunInfo

	mu        sync.Mutex
	total     int
	completed int
	skipped   int
	running   map[string]bool
}

var _ orchestrator.Listener = (*BusListener)(nil)

// RunInfo describes the run being observed. *orchestrator.Runner implements it.
type RunInfo interface {
	RunID() string
	ExecutionMode() orchestrator.ExecutionMode
}

// NewBusListener creates a listener publishing to bus. info stamps events
// with the run id and mode; it may be nil.
func NewBusListener(bus *EventBus, info RunInfo) *BusListener {
	return &BusListener{
		bus:     bus,
		info:    info,
		running: make(map[string]bool),
	}
}

func (l *BusListener) id() string {
	if l.info == nil {
		return ""
	}
	return l.info.RunID()
}

func (l *BusListener) mode() string {
	if l.info == nil {
		return ""
	}
	return string(l.info.ExecutionMode())
}

func (l *BusListener) OnRunStarted(total int) {
	l.mu.Lock()
	l.total = total
	l.completed, l.skipped = 0, 0
	l.running = make(map[string]bool)
	l.mu.Unlock()

	l.bus.Publish(TopicRun, RunStartedEvent{RunID: l.id(), Total: total, Mode: l.mode(), Timestamp: time.Now()})
	l.progress()
}

func (l *BusListener) OnTaskStarted(task scheduler.Task, index, total int) {
	l.mu.Lock()
	l.running[scheduler.Key(task.ID)] = true
	l.mu.Unlock()

	l.bus.Publish(TopicTask, TaskStartedEvent{
		ID: task.ID, Title: task.Title, RunID: l.id(),
		Index: index, Total: total, Timestamp: time.Now(),
	})
	l.progress()
}

func (l *BusListener) OnTaskCompleted(task scheduler.Task, index, total int) {
	l.mu.Lock()
	delete(l.running, scheduler.Key(task.ID))
	l.completed++
	l.mu.Unlock()

	l.bus.Publish(TopicTask, TaskCompletedEvent{
		ID: task.ID, Title: task.Title, RunID: l.id(),
		Index: index, Total: total, Timestamp: time.Now(),
	})
	l.progress()
}

func (l *BusListener) OnTaskSkipped(task scheduler.Task, index, total int, reason string) {
	l.mu.Lock()
	delete(l.running, scheduler.Key(task.ID))
	l.skipped++
	l.mu.Unlock()

	l.bus.Publish(TopicTask, TaskSkippedEvent{
		ID: task.ID, Title: task.Title, RunID: l.id(),
		Index: index, Total: total, Reason: reason, Timestamp: time.Now(),
	})
	l.progress()
}

func (l *BusListener) OnRunFinished(completed, skipped, total int, state orchestrator.RunState) {
	l.mu.Lock()
	l.running = make(map[string]bool)
	l.mu.Unlock()

	l.bus.Publish(TopicRun, RunFinishedEvent{
		RunID: l.id(), Completed: completed, Skipped: skipped, Total: total,
		State: state.String(), Timestamp: time.Now(),
	})
}

func (l *BusListener) progress() {
	l.mu.Lock()
	ev := RunProgressEvent{
		RunID:     l.id(),
		Total:     l.total,
		Completed: l.completed,
		Skipped:   l.skipped,
		Running:   len(l.running),
		Timestamp: time.Now(),
	}
	l.mu.Unlock()
	ev.Pending = max(ev.Total-ev.Completed-ev.Skipped-ev.Running, 0)

	l.bus.Publish(TopicRun, ev)
}
