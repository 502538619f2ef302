package orchestrator

import (
	"fmt"
	"strings"

	"github.com/aristath/specrunner/internal/scheduler"
)

// MarkdownRenderer renders a task as a markdown brief.
type MarkdownRenderer struct {
	// Preamble is written before every task, if set.
	Preamble string
}

func (m MarkdownRenderer) Render(task scheduler.Task) string {
	var b strings.Builder
	if p := strings.TrimSpace(m.Preamble); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}

	title := strings.TrimSpace(task.Title)
	if title == "" {
		fmt.Fprintf(&b, "# %s\n", task.ID)
	} else {
		fmt.Fprintf(&b, "# %s: %s\n", task.ID, title)
	}

	if task.Priority != "" {
		fmt.Fprintf(&b, "\nPriority: %s\n", task.Priority)
	}
	if len(task.Dependencies) > 0 {
		fmt.Fprintf(&b, "\nBuilds on: %s\n", strings.Join(task.Dependencies, ", "))
	}
	if d := strings.TrimSpace(task.Description); d != "" {
		b.WriteString("\n")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}
