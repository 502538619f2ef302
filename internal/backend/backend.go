package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/specrunner/internal/config"
)

// Backend defines the interface that all command-line tool adapters implement.
type Backend interface {
	// Run executes one invocation and blocks until the tool exits.
	// A non-zero exit returns the partial Result together with an *ExitError.
	Run(ctx context.Context, inv Invocation) (Result, error)

	// Name returns the adapter type.
	Name() string
}

// New creates a new backend based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate adapter.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "claude":
		return NewClaudeAdapter(cfg, pm), nil
	case "codex":
		return NewCodexAdapter(cfg, pm), nil
	case "goose":
		return NewGooseAdapter(cfg, pm), nil
	case "custom":
		return NewCustomAdapter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// ConfigFromTool builds a backend configuration from a configured tool.
// A tool without a type is looked up by its name.
func ConfigFromTool(tool config.ToolConfig, workDir string) Config {
	typ := tool.Type
	if strings.TrimSpace(typ) == "" {
		typ = tool.Name
	}
	return Config{
		Type:    typ,
		Command: tool.Command,
		Args:    append([]string(nil), tool.Args...),
		WorkDir: workDir,
		Model:   tool.Model,
	}
}

func commandOr(cfg Config, fallback string) string {
	if c := strings.TrimSpace(cfg.Command); c != "" {
		return c
	}
	return fallback
}

func workDirFor(inv Invocation, fallback string) string {
	if inv.WorkDir != "" {
		return inv.WorkDir
	}
	return fallback
}

// finish turns raw process output into a Result, classifying non-zero exits.
func finish(stdout, stderr []byte, code int, parse func([]byte) (string, error)) (Result, error) {
	if code != 0 {
		out := strings.TrimSpace(string(stderr))
		if out == "" {
			out = strings.TrimSpace(string(stdout))
		}
		return Result{Output: out, ExitCode: code}, &ExitError{Code: code, Output: out}
	}

	text, err := parse(stdout)
	if err != nil {
		return Result{Output: string(stdout)}, err
	}
	return Result{Output: text}, nil
}
