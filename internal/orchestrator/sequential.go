package orchestrator

import (
	"fmt"
	"strings"

	"github.com/aristath/specrunner/internal/config"
	"github.com/aristath/specrunner/internal/scheduler"
)

// dispatchPlan is an eligible task ready to be handed to a backend.
type dispatchPlan struct {
	task   scheduler.Task
	index  int
	prompt string
	cli    bool
	tool   config.ToolConfig
}

// advance walks the sequential order until a task is dispatched or the run
// ends. A nested call (a backend completing synchronously during dispatch)
// returns at once and the outer loop picks up the new state.
func (r *Runner) advance(rc *runContext) {
	r.mu.Lock()
	if rc.advancing {
		r.mu.Unlock()
		return
	}
	rc.advancing = true
	r.mu.Unlock()

	for {
		plan, ok := r.step(rc)
		if !ok {
			return
		}
		r.dispatch(rc, plan, true)
	}
}

// step resolves tasks until one needs dispatching. When there is nothing to
// dispatch it clears rc.advancing under the same lock that observed it.
func (r *Runner) step(rc *runContext) (dispatchPlan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.run == rc && r.state == StateRunningTask {
		if rc.index >= len(rc.order) {
			r.finishLocked(rc, StateAllCompleted)
			break
		}

		plan, ready := r.evaluateLocked(rc, rc.order[rc.index], rc.index)
		if !ready {
			rc.index++
			continue
		}

		task := plan.task.Clone()
		rc.current = &task
		r.state = StateWaitingForCompletion
		r.startLocked(rc, plan.task, plan.index)
		return plan, true
	}

	rc.advancing = false
	return dispatchPlan{}, false
}

// evaluateLocked re-reads task from the store and applies the eligibility
// checks shared by both modes. Tasks that are already done or cannot run are
// counted and reported here; ready is true only for a task to dispatch.
func (r *Runner) evaluateLocked(rc *runContext, task scheduler.Task, index int) (plan dispatchPlan, ready bool) {
	fresh, found, err := r.store.GetSpec(rc.ctx, task.ID)
	if err != nil {
		r.logger.Error("task lookup failed", "run_id", rc.id, "task_id", task.ID, "error", err)
		found = false
	}
	if !found {
		r.skipLocked(rc, task, index, ReasonTaskNotFound)
		return dispatchPlan{}, false
	}

	if fresh.IsDone() {
		r.completeLocked(rc, fresh, index)
		return dispatchPlan{}, false
	}

	if len(fresh.Dependencies) > 0 {
		known, err := r.store.ListSpecs(rc.ctx)
		if err != nil {
			r.logger.Error("listing tasks failed", "run_id", rc.id, "task_id", task.ID, "error", err)
		}
		if unmet := scheduler.UnsatisfiedDependencies(fresh, rc.completedIDs, rc.selectedIDs, known); len(unmet) > 0 {
			r.skipLocked(rc, fresh, index, UnsatisfiedReason(unmet))
			return dispatchPlan{}, false
		}
	}

	plan = dispatchPlan{task: fresh, index: index}
	if rc.settings.IsCLI() {
		tool, reason, ok := resolveTool(rc.settings)
		if !ok {
			r.skipLocked(rc, fresh, index, reason)
			return dispatchPlan{}, false
		}
		plan.cli = true
		plan.tool = tool
	}
	plan.prompt = r.renderer.Render(fresh)
	return plan, true
}

func resolveTool(s config.RunSettings) (config.ToolConfig, string, bool) {
	name := strings.TrimSpace(s.CLITool)
	if name == "" {
		return config.ToolConfig{}, ReasonNoToolSelected, false
	}
	tool, ok := s.ResolveTool(name)
	if !ok {
		return config.ToolConfig{}, ToolNotFoundReason(name), false
	}
	if !tool.Enabled {
		return config.ToolConfig{}, ToolDisabledReason(name), false
	}
	return tool, "", true
}

// dispatch hands plan to its backend. Must be called without r.mu held.
// A backend that refuses the task fails it like an asynchronous failure.
func (r *Runner) dispatch(rc *runContext, plan dispatchPlan, resetContext bool) {
	if resetContext && r.prompts != nil {
		r.prompts.ResetMemory()
		r.prompts.ResetFileContext()
	}

	var err error
	switch {
	case plan.cli && r.tools == nil:
		err = fmt.Errorf("no command-line executor configured")
	case plan.cli:
		err = r.tools.Execute(rc.ctx, plan.tool, plan.prompt, plan.task.ID, plan.task.Title)
	case r.prompts == nil:
		err = fmt.Errorf("no prompt dispatcher configured")
	default:
		err = r.prompts.SubmitPrompt(rc.ctx, rc.settings.Project, plan.task.ID, plan.prompt)
	}

	if err != nil {
		r.logger.Error("dispatch failed", "run_id", rc.id, "task_id", plan.task.ID, "error", err)
		r.NotifyTaskFailed(plan.task.ID, "dispatch failed: "+err.Error())
	}
}
