// Package backlog reads task definitions from HCL files.
//
// A backlog file is a list of task blocks:
//
//	task "TASK-2" {
//	  title      = "Wire the store"
//	  status     = "To Do"
//	  ordinal    = 2
//	  depends_on = ["TASK-1"]
//	}
package backlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/aristath/specrunner/internal/scheduler"
)

type hclFile struct {
	Tasks []*hclTask `hcl:"task,block"`
}

type hclTask struct {
	ID          string   `hcl:"id,label"`
	Title       string   `hcl:"title,optional"`
	Description string   `hcl:"description,optional"`
	Status      string   `hcl:"status,optional"`
	Ordinal     int      `hcl:"ordinal,optional"`
	Priority    string   `hcl:"priority,optional"`
	DependsOn   []string `hcl:"depends_on,optional"`
}

// LoadFile parses and decodes the backlog at path.
func LoadFile(path string) ([]scheduler.Task, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse backlog %s: %w", path, diags)
	}
	return decode(file.Body, path)
}

// Parse decodes backlog source held in memory. filename is used in diagnostics.
func Parse(src []byte, filename string) ([]scheduler.Task, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse backlog %s: %w", filename, diags)
	}
	return decode(file.Body, filename)
}

func decode(body hcl.Body, filename string) ([]scheduler.Task, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode backlog %s: %w", filename, diags)
	}

	tasks := make([]scheduler.Task, 0, len(parsed.Tasks))
	seen := make(map[string]string, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("%s: task with empty id", filename)
		}
		if prev, dup := seen[scheduler.Key(id)]; dup {
			return nil, fmt.Errorf("%s: duplicate task %s (already defined as %s)", filename, id, prev)
		}
		seen[scheduler.Key(id)] = id

		status := strings.TrimSpace(t.Status)
		if status == "" {
			status = scheduler.StatusToDo
		}
		tasks = append(tasks, scheduler.Task{
			ID:           id,
			Title:        t.Title,
			Description:  strings.TrimSpace(t.Description),
			Status:       status,
			Dependencies: t.DependsOn,
			Ordinal:      t.Ordinal,
			Priority:     t.Priority,
		})
	}
	return tasks, nil
}

// Saver stores imported tasks.
type Saver interface {
	SaveTask(ctx context.Context, task scheduler.Task) error
}

// Import saves every task, stopping at the first failure.
func Import(ctx context.Context, s Saver, tasks []scheduler.Task) (int, error) {
	for i, t := range tasks {
		if err := s.SaveTask(ctx, t); err != nil {
			return i, fmt.Errorf("import %s: %w", t.ID, err)
		}
	}
	return len(tasks), nil
}
