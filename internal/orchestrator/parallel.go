package orchestrator

import (
	"golang.org/x/sync/errgroup"

	"github.com/aristath/specrunner/internal/scheduler"
)

// runLayers dispatches each layer with up to maxConcurrency workers and waits
// for the whole layer before starting the next one. After a task fails no new
// task is dispatched, the layer drains and the run ends in StateError.
func (r *Runner) runLayers(rc *runContext, layers [][]scheduler.Task) {
	for i, layer := range layers {
		if !r.canDispatch(rc) {
			break
		}
		r.logger.Debug("starting layer", "run_id", rc.id, "layer", i, "tasks", len(layer))

		if r.prompts != nil {
			r.prompts.ResetMemory()
			r.prompts.ResetFileContext()
		}

		var g errgroup.Group
		g.SetLimit(rc.maxConcurrency)
		for _, task := range layer {
			index := rc.position[scheduler.Key(task.ID)]
			g.Go(func() error {
				r.runWorker(rc, task, index)
				return nil
			})
		}
		_ = g.Wait()
	}

	r.mu.Lock()
	if r.run == rc {
		if rc.failed {
			r.finishLocked(rc, StateError)
		} else {
			r.finishLocked(rc, StateAllCompleted)
		}
	}
	r.mu.Unlock()
	r.flush()
}

func (r *Runner) canDispatch(rc *runContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run == rc && !rc.failed && rc.ctx.Err() == nil
}

// runWorker resolves one task of a layer, blocking on its gate while the
// backend works.
func (r *Runner) runWorker(rc *runContext, task scheduler.Task, index int) {
	r.mu.Lock()
	if r.run != rc || rc.failed || rc.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}

	plan, ready := r.evaluateLocked(rc, task, index)
	if !ready {
		rc.index = rc.completed + rc.skipped
		r.mu.Unlock()
		r.flush()
		return
	}

	key := scheduler.Key(plan.task.ID)
	g := newGate()
	rc.inFlight[key] = g
	r.state = StateWaitingForCompletion
	r.startLocked(rc, plan.task, index)
	r.mu.Unlock()
	r.flush()

	r.dispatch(rc, plan, false)

	var res gateResult
	select {
	case res = <-g.ch:
	case <-rc.ctx.Done():
		r.mu.Lock()
		delete(rc.inFlight, key)
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	delete(rc.inFlight, key)
	if r.run == rc {
		if res.failed {
			r.skipLocked(rc, plan.task, index, res.reason)
			rc.failed = true
		} else {
			r.completeLocked(rc, plan.task, index)
		}
		rc.index = rc.completed + rc.skipped
		if len(rc.inFlight) == 0 {
			r.state = StateRunningTask
		}
	}
	r.mu.Unlock()
	r.flush()
}
