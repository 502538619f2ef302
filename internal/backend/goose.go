package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GooseAdapter runs tasks through `goose run`. Each task gets its own
// named session.
type GooseAdapter struct {
	command string
	workDir string
	model   string
	extra   []string
	procMgr *ProcessManager
}

// gooseMessage is one JSON line goose may print; anything else is plain text.
type gooseMessage struct {
	Content string `json:"content"`
}

// NewGooseAdapter creates a Goose adapter.
func NewGooseAdapter(cfg Config, procMgr *ProcessManager) *GooseAdapter {
	return &GooseAdapter{
		command: commandOr(cfg, "goose"),
		workDir: cfg.WorkDir,
		model:   cfg.Model,
		extra:   cfg.Args,
		procMgr: procMgr,
	}
}

func (g *GooseAdapter) Name() string { return "goose" }

func (g *GooseAdapter) Run(ctx context.Context, inv Invocation) (Result, error) {
	cmd := newCommand(ctx, g.command, g.buildArgs(inv)...)
	cmd.Dir = workDirFor(inv, g.workDir)

	stdout, stderr, code, err := runCommand(ctx, cmd, g.procMgr, "", inv.OnLine)
	if err != nil {
		return Result{ExitCode: code}, fmt.Errorf("goose: %w", err)
	}
	return finish(stdout, stderr, code, func(data []byte) (string, error) {
		return parseGooseOutput(data), nil
	})
}

func (g *GooseAdapter) buildArgs(inv Invocation) []string {
	args := []string{"run", "--text", inv.Prompt}
	if inv.TaskID != "" {
		args = append(args, "--name", sessionName(inv.TaskID))
	}
	if g.model != "" {
		args = append(args, "--model", g.model)
	}
	return append(args, g.extra...)
}

// sessionName derives a goose session name from a task id.
func sessionName(taskID string) string {
	var b strings.Builder
	b.WriteString("specrunner-")
	for _, r := range strings.ToLower(taskID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// parseGooseOutput joins JSON message contents when goose prints JSON lines
// and falls back to the plain text otherwise.
func parseGooseOutput(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var parts []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg gooseMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil || msg.Content == "" {
			return strings.TrimSpace(string(data))
		}
		parts = append(parts, msg.Content)
	}
	return strings.Join(parts, "\n")
}
