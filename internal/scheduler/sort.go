package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCircularDependency matches any *CycleError via errors.Is.
var ErrCircularDependency = errors.New("circular dependency")

// CycleError reports the tasks that could not be ordered because they take
// part in (or hang off) one or more dependency cycles.
type CycleError struct {
	TaskIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected among tasks: %s", strings.Join(e.TaskIDs, ", "))
}

// Is lets errors.Is(err, ErrCircularDependency) match.
func (e *CycleError) Is(target error) bool {
	return target == ErrCircularDependency
}

// Less reports whether a sorts before b when both are eligible at the same time:
// ascending ordinal, then ascending numeric ID suffix (IDs without a numeric
// suffix go last), then lexicographic ID.
func Less(a, b Task) bool {
	oa, ob := a.NormalizeOrdinal(), b.NormalizeOrdinal()
	if oa != ob {
		return oa < ob
	}

	na, aok := IDSuffix(a.ID)
	nb, bok := IDSuffix(b.ID)
	switch {
	case aok && !bok:
		return true
	case !aok && bok:
		return false
	case aok && bok && na != nb:
		return na < nb
	}
	return a.ID < b.ID
}

// Sort orders the selected tasks so every task comes after the selected tasks
// it depends on. Dependencies that resolve outside the selection are treated
// as preconditions and never affect ordering or cycle detection.
//
// When a selected task is also present in allKnown, the known record is used,
// so callers may pass stale selections. Duplicate IDs collapse to the first one.
func Sort(selected, allKnown []Task) ([]Task, error) {
	known := index(allKnown)

	nodes := make(map[string]Task, len(selected))
	keys := make([]string, 0, len(selected))
	for _, t := range selected {
		k := Key(t.ID)
		if _, dup := nodes[k]; dup {
			continue
		}
		if fresh, ok := known[k]; ok {
			t = fresh
		}
		nodes[k] = t
		keys = append(keys, k)
	}

	// dependents[B] lists the tasks that must wait for B.
	dependents := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, k := range keys {
		inDegree[k] = 0
		seen := make(map[string]bool)
		for _, dep := range nodes[k].Dependencies {
			dk := Key(dep)
			if _, inSelection := nodes[dk]; !inSelection || seen[dk] {
				continue
			}
			seen[dk] = true
			dependents[dk] = append(dependents[dk], k)
			inDegree[k]++
		}
	}

	ready := &taskHeap{}
	for _, k := range keys {
		if inDegree[k] == 0 {
			heap.Push(ready, nodes[k])
		}
	}

	order := make([]Task, 0, len(nodes))
	for ready.Len() > 0 {
		t := heap.Pop(ready).(Task)
		order = append(order, t.Clone())

		for _, next := range dependents[Key(t.ID)] {
			inDegree[next]--
			if inDegree[next] == 0 {
				heap.Push(ready, nodes[next])
			}
		}
	}

	if len(order) != len(nodes) {
		remaining := make([]Task, 0, len(nodes)-len(order))
		for _, k := range keys {
			if inDegree[k] > 0 {
				remaining = append(remaining, nodes[k])
			}
		}
		sort.Slice(remaining, func(i, j int) bool { return Less(remaining[i], remaining[j]) })

		ids := make([]string, len(remaining))
		for i, t := range remaining {
			ids[i] = t.ID
		}
		return nil, &CycleError{TaskIDs: ids}
	}

	return order, nil
}

// UnsatisfiedDependencies returns the dependency IDs of task that are neither
// completed earlier in the current run nor resolved to a known task whose
// status is Done. Resolvable IDs are reported with their canonical casing.
//
// selectedIDs is accepted for symmetry with Sort; a selected dependency that
// has not completed in this run is unsatisfied regardless of selection.
func UnsatisfiedDependencies(task Task, completedIDs map[string]bool, selectedIDs map[string]bool, allKnown []Task) []string {
	if len(task.Dependencies) == 0 {
		return nil
	}

	known := index(allKnown)
	var unmet []string
	reported := make(map[string]bool)

	for _, dep := range task.Dependencies {
		dk := Key(dep)
		if dk == "" || reported[dk] {
			continue
		}
		if completedIDs[dk] {
			continue
		}

		kt, resolvable := known[dk]
		if resolvable && kt.IsDone() {
			continue
		}

		reported[dk] = true
		if resolvable {
			unmet = append(unmet, kt.ID)
		} else {
			unmet = append(unmet, strings.TrimSpace(dep))
		}
	}
	return unmet
}

// KeySet builds a case-folded ID set from tasks.
func KeySet(tasks []Task) map[string]bool {
	set := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		set[Key(t.ID)] = true
	}
	return set
}

// taskHeap is a min-heap of tasks ordered by Less.
type taskHeap []Task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
