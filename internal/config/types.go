package config

import "strings"

// Run modes select the execution backend for a run.
const (
	RunModeLLM = "llm" // Conversational backend
	RunModeCLI = "cli" // External command-line tool
)

// ToolConfig describes one external command-line tool a task can be handed to.
type ToolConfig struct {
	Name    string   `json:"name"`              // Lookup key, compared case-insensitively
	Type    string   `json:"type"`              // Adapter type: "claude", "codex", "goose", "custom"
	Command string   `json:"command,omitempty"` // Binary override (defaults to the type name)
	Args    []string `json:"args,omitempty"`    // Extra args; "custom" tools may use placeholders
	Model   string   `json:"model,omitempty"`   // Model override passed to the tool
	Enabled bool     `json:"enabled"`
}

// ChatConfig configures the conversational backend.
type ChatConfig struct {
	Provider     string `json:"provider"`                // "anthropic" or "openai"
	Model        string `json:"model,omitempty"`         // Provider model name
	SystemPrompt string `json:"system_prompt,omitempty"` // Prepended to every conversation
	MaxTokens    int64  `json:"max_tokens,omitempty"`
	APIKeyEnv    string `json:"api_key_env,omitempty"` // Environment variable holding the API key
}

// Config is the top-level configuration.
type Config struct {
	Project        string       `json:"project"`         // Destination scope for prompt submissions
	RunMode        string       `json:"run_mode"`        // RunModeLLM or RunModeCLI
	ExecutionMode  string       `json:"execution_mode"`  // "sequential" or "parallel"; anything else is sequential
	MaxConcurrency int          `json:"max_concurrency"` // Worker limit for parallel runs
	CLITool        string       `json:"cli_tool"`        // Name of the tool used in CLI mode
	Tools          []ToolConfig `json:"tools"`
	Chat           ChatConfig   `json:"chat"`
	StorePath      string       `json:"store_path"` // SQLite task store location
	WorkDir        string       `json:"work_dir,omitempty"`
	LogLevel       string       `json:"log_level"`
	LogFormat      string       `json:"log_format"`
}

// RunSettings is the slice of configuration a single run reads when it starts.
type RunSettings struct {
	Project        string
	RunMode        string
	ExecutionMode  string
	MaxConcurrency int
	CLITool        string
	Tools          []ToolConfig
}

// RunSettings extracts the per-run settings.
func (c *Config) RunSettings() RunSettings {
	tools := make([]ToolConfig, len(c.Tools))
	copy(tools, c.Tools)
	return RunSettings{
		Project:        c.Project,
		RunMode:        c.RunMode,
		ExecutionMode:  c.ExecutionMode,
		MaxConcurrency: c.MaxConcurrency,
		CLITool:        c.CLITool,
		Tools:          tools,
	}
}

// IsCLI reports whether the run mode selects the command-line backend.
func (s RunSettings) IsCLI() bool {
	return strings.EqualFold(strings.TrimSpace(s.RunMode), RunModeCLI)
}

// ResolveTool looks up a configured tool by name, case-insensitively.
func (s RunSettings) ResolveTool(name string) (ToolConfig, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ToolConfig{}, false
	}
	for _, t := range s.Tools {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return ToolConfig{}, false
}
