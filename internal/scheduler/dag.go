package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG is the dependency graph of a whole backlog. Unlike Sort, it considers
// every known task and flags dependencies that point at nothing.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]Task     // All tasks indexed by case-folded ID
	dependents map[string][]string // Maps key -> keys of tasks that depend on it
}

// BacklogReport summarizes a backlog validation.
type BacklogReport struct {
	Order    []string            // Topological order of task IDs
	Dangling map[string][]string // Task ID -> dependency IDs that resolve to no task
	Blocked  map[string][]string // Dangling task ID -> tasks that transitively wait on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]Task),
		dependents: make(map[string][]string),
	}
}

// NewDAGFromTasks builds a DAG from tasks, rejecting duplicate IDs.
func NewDAGFromTasks(tasks []Task) (*DAG, error) {
	d := NewDAG()
	for _, t := range tasks {
		if err := d.AddTask(t); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddTask adds a task to the DAG. Returns error if the ID already exists
// (compared case-insensitively).
func (d *DAG) AddTask(task Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := Key(task.ID)
	if k == "" {
		return fmt.Errorf("task has empty ID")
	}
	if _, exists := d.tasks[k]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	d.tasks[k] = task.Clone()
	for _, dep := range task.Dependencies {
		dk := Key(dep)
		d.dependents[dk] = append(d.dependents[dk], k)
	}
	return nil
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for _, k := range d.dependents[Key(taskID)] {
		ids = append(ids, d.tasks[k].ID)
	}
	sort.Strings(ids)
	return ids
}

// Blocked returns every task that directly or transitively depends on one of
// taskIDs, excluding taskIDs themselves. The result is sorted.
func (d *DAG) Blocked(taskIDs ...string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.blockedLocked(taskIDs...)
}

func (d *DAG) blockedLocked(taskIDs ...string) []string {
	seen := make(map[string]bool, len(taskIDs))
	queue := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		k := Key(id)
		if !seen[k] {
			seen[k] = true
			queue = append(queue, k)
		}
	}

	var ids []string
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, dk := range d.dependents[k] {
			if seen[dk] {
				continue
			}
			seen[dk] = true
			ids = append(ids, d.tasks[dk].ID)
			queue = append(queue, dk)
		}
	}
	sort.Strings(ids)
	return ids
}

// Validate topologically sorts the whole backlog using gammazero/toposort.
// Dangling dependencies are reported, not treated as errors. A cycle returns
// a *CycleError naming every task that could not be ordered.
func (d *DAG) Validate() (BacklogReport, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	report := BacklogReport{
		Dangling: make(map[string][]string),
		Blocked:  make(map[string][]string),
	}

	var edges []toposort.Edge
	for k, task := range d.tasks {
		resolved := 0
		for _, dep := range task.Dependencies {
			dk := Key(dep)
			if _, exists := d.tasks[dk]; !exists {
				report.Dangling[task.ID] = append(report.Dangling[task.ID], dep)
				continue
			}
			// Edge (dep, task) means dep must come before task
			edges = append(edges, toposort.Edge{dk, k})
			resolved++
		}
		if resolved == 0 {
			// Anchor roots so isolated tasks appear in the result
			edges = append(edges, toposort.Edge{nil, k})
		}
	}

	for id := range report.Dangling {
		if blocked := d.blockedLocked(id); len(blocked) > 0 {
			report.Blocked[id] = blocked
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return report, d.cycleError()
	}

	for _, v := range sorted {
		if v == nil {
			continue
		}
		report.Order = append(report.Order, d.tasks[v.(string)].ID)
	}

	if len(report.Order) != len(d.tasks) {
		return report, d.cycleError()
	}
	return report, nil
}

// cycleError runs Sort over the backlog to name the tasks stuck in cycles.
func (d *DAG) cycleError() error {
	all := make([]Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		all = append(all, t)
	}
	if _, err := Sort(all, all); err != nil {
		return err
	}
	return &CycleError{TaskIDs: []string{"unknown"}}
}

// String renders dangling dependencies for display.
func (r BacklogReport) String() string {
	if len(r.Dangling) == 0 {
		return fmt.Sprintf("%d tasks, no dangling dependencies", len(r.Order))
	}
	ids := make([]string, 0, len(r.Dangling))
	for id := range r.Dangling {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks, %d with dangling dependencies:", len(r.Order), len(ids))
	for _, id := range ids {
		fmt.Fprintf(&b, "\n  %s -> %s", id, strings.Join(r.Dangling[id], ", "))
		if blocked := r.Blocked[id]; len(blocked) > 0 {
			fmt.Fprintf(&b, " (blocks %s)", strings.Join(blocked, ", "))
		}
	}
	return b.String()
}
