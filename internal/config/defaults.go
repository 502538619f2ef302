package config

// DefaultMaxConcurrency is used when max_concurrency is unset or not positive.
const DefaultMaxConcurrency = 4

// DefaultConfig returns the default configuration with the built-in tools.
func DefaultConfig() *Config {
	return &Config{
		Project:        "default",
		RunMode:        RunModeLLM,
		ExecutionMode:  "sequential",
		MaxConcurrency: DefaultMaxConcurrency,
		CLITool:        "claude",
		Tools: []ToolConfig{
			{Name: "claude", Type: "claude", Command: "claude", Enabled: true},
			{Name: "codex", Type: "codex", Command: "codex", Enabled: true},
			{Name: "goose", Type: "goose", Command: "goose", Enabled: true},
		},
		Chat: ChatConfig{
			Provider:     "anthropic",
			Model:        "claude-sonnet-4-20250514",
			SystemPrompt: "You implement backlog tasks. Work only on the task you are given.",
			MaxTokens:    8192,
			APIKeyEnv:    "ANTHROPIC_API_KEY",
		},
		StorePath: ".specrunner/tasks.db",
		LogLevel:  "info",
		LogFormat: "text",
	}
}
