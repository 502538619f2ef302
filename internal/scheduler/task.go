package scheduler

import (
	"math"
	"strings"
)

// Conventional status values. The vocabulary is open; only StatusDone carries
// meaning for scheduling.
const (
	StatusToDo       = "To Do"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
)

// DefaultOrdinal is the ordinal of a task that never had one assigned.
// It sorts after every explicitly ordered task.
const DefaultOrdinal = math.MaxInt32

// Task represents one unit of backlog work as read from the task store.
// The scheduler treats tasks as read-only snapshots.
type Task struct {
	ID           string   // Unique identifier, conventionally "TASK-<n>"
	Title        string   // Human-readable title
	Description  string   // Free-form body used when rendering the prompt
	Status       string   // Open vocabulary; see StatusDone
	Dependencies []string // Task IDs this task depends on (case-insensitive)
	Ordinal      int      // Base ordering priority, lower runs first
	Priority     string   // Informational only
}

// IsDone reports whether the task's persisted status is Done.
func (t Task) IsDone() bool {
	return strings.EqualFold(strings.TrimSpace(t.Status), StatusDone)
}

// NormalizeOrdinal returns the ordinal used for sorting. Zero means unset and
// maps to DefaultOrdinal; negative ordinals sort ahead of positive ones.
func (t Task) NormalizeOrdinal() int {
	if t.Ordinal == 0 {
		return DefaultOrdinal
	}
	return t.Ordinal
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	cp := t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	return cp
}

// Key returns the case-folded identifier used for map lookups.
func Key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// IDSuffix extracts the trailing numeric suffix of a task ID ("TASK-12" -> 12).
// ok is false when the ID does not end in digits.
func IDSuffix(id string) (n int, ok bool) {
	id = strings.TrimSpace(id)
	end := len(id)
	start := end
	for start > 0 && id[start-1] >= '0' && id[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}

	digits := id[start:end]
	// Guard against suffixes that overflow int.
	if len(digits) > 18 {
		return math.MaxInt, true
	}
	for _, c := range digits {
		n = n*10 + int(c-'0')
	}
	return n, true
}

// index maps case-folded IDs to tasks. The first occurrence of a duplicate ID wins.
func index(tasks []Task) map[string]Task {
	m := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		k := Key(t.ID)
		if _, exists := m[k]; exists {
			continue
		}
		m[k] = t
	}
	return m
}
