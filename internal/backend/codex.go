package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodexAdapter runs tasks through `codex exec` and reads its JSONL event stream.
type CodexAdapter struct {
	command string
	workDir string
	model   string
	extra   []string
	procMgr *ProcessManager
}

// codexEvent covers the event shapes the adapter reads. Older releases emit
// TurnCompleted with content; newer ones emit item.completed with an
// agent_message item.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
	Message  string `json:"message"`
	Item     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// NewCodexAdapter creates a Codex adapter.
func NewCodexAdapter(cfg Config, procMgr *ProcessManager) *CodexAdapter {
	return &CodexAdapter{
		command: commandOr(cfg, "codex"),
		workDir: cfg.WorkDir,
		model:   cfg.Model,
		extra:   cfg.Args,
		procMgr: procMgr,
	}
}

func (c *CodexAdapter) Name() string { return "codex" }

func (c *CodexAdapter) Run(ctx context.Context, inv Invocation) (Result, error) {
	cmd := newCommand(ctx, c.command, c.buildArgs(inv)...)
	cmd.Dir = workDirFor(inv, c.workDir)

	stdout, stderr, code, err := runCommand(ctx, cmd, c.procMgr, "", inv.OnLine)
	if err != nil {
		return Result{ExitCode: code}, fmt.Errorf("codex: %w", err)
	}
	return finish(stdout, stderr, code, func(data []byte) (string, error) {
		_, content, err := parseCodexEvents(data)
		return content, err
	})
}

// buildArgs returns ["exec", prompt, "--json"] plus model and extra args.
func (c *CodexAdapter) buildArgs(inv Invocation) []string {
	args := []string{"exec", inv.Prompt, "--json"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	return append(args, c.extra...)
}

// parseCodexEvents reads newline-delimited JSON events. Agent messages are
// joined in order; an error event fails the invocation.
func parseCodexEvents(data []byte) (threadID string, content string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var parts []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			return "", "", fmt.Errorf("failed to parse codex event: %w", err)
		}

		switch evt.Type {
		case "ThreadStarted", "thread.started":
			threadID = evt.ThreadID
		case "TurnCompleted":
			parts = append(parts, evt.Content)
		case "item.completed":
			if evt.Item.Type == "agent_message" {
				parts = append(parts, evt.Item.Text)
			}
		case "error", "turn.failed":
			return threadID, "", &ExitError{Code: 1, Output: evt.Message}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("error reading events: %w", err)
	}

	return threadID, strings.Join(parts, "\n"), nil
}
