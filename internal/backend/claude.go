package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ClaudeAdapter runs tasks through the Claude Code CLI in print mode.
type ClaudeAdapter struct {
	command string
	workDir string
	model   string
	extra   []string
	procMgr *ProcessManager
}

// claudeResponse is the JSON document printed by `claude -p --output-format json`.
type claudeResponse struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// NewClaudeAdapter creates a Claude Code adapter. The ProcessManager is
// optional; without one processes are not tracked.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) *ClaudeAdapter {
	return &ClaudeAdapter{
		command: commandOr(cfg, "claude"),
		workDir: cfg.WorkDir,
		model:   cfg.Model,
		extra:   cfg.Args,
		procMgr: procMgr,
	}
}

func (a *ClaudeAdapter) Name() string { return "claude" }

// Run starts a fresh session for the task and returns the final result text.
func (a *ClaudeAdapter) Run(ctx context.Context, inv Invocation) (Result, error) {
	cmd := newCommand(ctx, a.command, a.buildArgs(inv, uuid.NewString())...)
	cmd.Dir = workDirFor(inv, a.workDir)

	stdout, stderr, code, err := runCommand(ctx, cmd, a.procMgr, "", inv.OnLine)
	if err != nil {
		return Result{ExitCode: code}, fmt.Errorf("claude: %w", err)
	}
	return finish(stdout, stderr, code, parseClaudeResponse)
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (a *ClaudeAdapter) buildArgs(inv Invocation, sessionID string) []string {
	args := []string{"-p", inv.Prompt, "--output-format", "json", "--session-id", sessionID}
	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	return append(args, a.extra...)
}

// parseClaudeResponse extracts the result text. A response flagged as an
// error is reported as a failed exit so the task is not marked complete.
func parseClaudeResponse(data []byte) (string, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("failed to unmarshal claude response: %w", err)
	}
	if cr.IsError {
		out := strings.TrimSpace(cr.Result)
		if out == "" {
			out = cr.Subtype
		}
		return "", &ExitError{Code: 1, Output: out}
	}
	return cr.Result, nil
}
