package orchestrator

import "github.com/aristath/specrunner/internal/scheduler"

// Listener observes a run.
//
// Events are delivered synchronously and in transition order, never while the
// runner holds its lock. The goroutine that drives a transition delivers its
// events, unless another goroutine is already delivering, in which case that
// one picks them up. A listener may call back into the runner; events caused
// by such a call are delivered after the listener returns.
//
// index is the task's position in the sorted order and total the run's task count.
type Listener interface {
	OnRunStarted(total int)
	OnTaskStarted(task scheduler.Task, index, total int)
	OnTaskCompleted(task scheduler.Task, index, total int)
	OnTaskSkipped(task scheduler.Task, index, total int, reason string)
	OnRunFinished(completed, skipped, total int, state RunState)
}

// ListenerFuncs adapts optional callbacks to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	RunStarted    func(total int)
	TaskStarted   func(task scheduler.Task, index, total int)
	TaskCompleted func(task scheduler.Task, index, total int)
	TaskSkipped   func(task scheduler.Task, index, total int, reason string)
	RunFinished   func(completed, skipped, total int, state RunState)
}

func (f *ListenerFuncs) OnRunStarted(total int) {
	if f.RunStarted != nil {
		f.RunStarted(total)
	}
}

func (f *ListenerFuncs) OnTaskStarted(task scheduler.Task, index, total int) {
	if f.TaskStarted != nil {
		f.TaskStarted(task, index, total)
	}
}

func (f *ListenerFuncs) OnTaskCompleted(task scheduler.Task, index, total int) {
	if f.TaskCompleted != nil {
		f.TaskCompleted(task, index, total)
	}
}

func (f *ListenerFuncs) OnTaskSkipped(task scheduler.Task, index, total int, reason string) {
	if f.TaskSkipped != nil {
		f.TaskSkipped(task, index, total, reason)
	}
}

func (f *ListenerFuncs) OnRunFinished(completed, skipped, total int, state RunState) {
	if f.RunFinished != nil {
		f.RunFinished(completed, skipped, total, state)
	}
}
