package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Placeholders substituted into a custom tool's arguments.
const (
	PlaceholderPrompt = "{{prompt}}"
	PlaceholderTaskID = "{{task_id}}"
	PlaceholderTitle  = "{{title}}"
)

// CustomAdapter runs any configured command. When no argument mentions
// {{prompt}} the prompt is written to the tool's stdin.
type CustomAdapter struct {
	command string
	args    []string
	workDir string
	procMgr *ProcessManager
}

// NewCustomAdapter creates an adapter for an arbitrary command.
func NewCustomAdapter(cfg Config, procMgr *ProcessManager) (*CustomAdapter, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("custom backend requires a command")
	}
	return &CustomAdapter{
		command: cfg.Command,
		args:    cfg.Args,
		workDir: cfg.WorkDir,
		procMgr: procMgr,
	}, nil
}

func (c *CustomAdapter) Name() string { return "custom" }

func (c *CustomAdapter) Run(ctx context.Context, inv Invocation) (Result, error) {
	args, usesPrompt := c.buildArgs(inv)
	cmd := newCommand(ctx, c.command, args...)
	cmd.Dir = workDirFor(inv, c.workDir)

	stdin := ""
	if !usesPrompt {
		stdin = inv.Prompt
	}

	stdout, stderr, code, err := runCommand(ctx, cmd, c.procMgr, stdin, inv.OnLine)
	if err != nil {
		return Result{ExitCode: code}, fmt.Errorf("%s: %w", c.command, err)
	}
	return finish(stdout, stderr, code, func(data []byte) (string, error) {
		return strings.TrimSpace(string(data)), nil
	})
}

// buildArgs substitutes placeholders and reports whether the prompt was
// passed as an argument.
func (c *CustomAdapter) buildArgs(inv Invocation) ([]string, bool) {
	r := strings.NewReplacer(
		PlaceholderPrompt, inv.Prompt,
		PlaceholderTaskID, inv.TaskID,
		PlaceholderTitle, inv.Title,
	)

	usesPrompt := false
	args := make([]string, len(c.args))
	for i, a := range c.args {
		if strings.Contains(a, PlaceholderPrompt) {
			usesPrompt = true
		}
		args[i] = r.Replace(a)
	}
	return args, usesPrompt
}
