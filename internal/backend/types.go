package backend

import "fmt"

// Invocation is one task handed to a command-line tool.
type Invocation struct {
	TaskID  string
	Title   string
	Prompt  string
	WorkDir string            // Overrides the adapter's working directory when set
	OnLine  func(line string) // Receives stdout and stderr lines as they arrive
}

// Result is the outcome of a finished invocation.
type Result struct {
	Output   string // Extracted response text, or raw output for plain-text tools
	ExitCode int
}

// Config defines the configuration for a backend.
type Config struct {
	Type    string   // "claude", "codex", "goose" or "custom"
	Command string   // Binary to run; defaults to the type name
	Args    []string // Extra arguments appended to the adapter's own
	WorkDir string
	Model   string
}

// ExitError reports a tool that exited with a non-zero status.
type ExitError struct {
	Code   int
	Output string // Trimmed stderr, or stdout when stderr was empty
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
