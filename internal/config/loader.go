package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// overlay mirrors Config with pointer scalars so a file can leave a field
// untouched by omitting it.
type overlay struct {
	Project        *string      `json:"project"`
	RunMode        *string      `json:"run_mode"`
	ExecutionMode  *string      `json:"execution_mode"`
	MaxConcurrency *int         `json:"max_concurrency"`
	CLITool        *string      `json:"cli_tool"`
	Tools          []ToolConfig `json:"tools"`
	Chat           *struct {
		Provider     *string `json:"provider"`
		Model        *string `json:"model"`
		SystemPrompt *string `json:"system_prompt"`
		MaxTokens    *int64  `json:"max_tokens"`
		APIKeyEnv    *string `json:"api_key_env"`
	} `json:"chat"`
	StorePath *string `json:"store_path"`
	WorkDir   *string `json:"work_dir"`
	LogLevel  *string `json:"log_level"`
	LogFormat *string `json:"log_format"`
}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return cfg, nil
}

// DefaultPaths returns the conventional config locations.
// Global: ~/.specrunner/config.json
// Project: .specrunner/config.json (relative to cwd)
func DefaultPaths() (globalPath, projectPath string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".specrunner", "config.json"), filepath.Join(".specrunner", "config.json"), nil
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*Config, error) {
	globalPath, projectPath, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Tools merge by name: a same-named tool replaces the earlier one, new names are appended.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded overlay
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	setString(&base.Project, loaded.Project)
	setString(&base.RunMode, loaded.RunMode)
	setString(&base.ExecutionMode, loaded.ExecutionMode)
	if loaded.MaxConcurrency != nil {
		base.MaxConcurrency = *loaded.MaxConcurrency
	}
	setString(&base.CLITool, loaded.CLITool)
	setString(&base.StorePath, loaded.StorePath)
	setString(&base.WorkDir, loaded.WorkDir)
	setString(&base.LogLevel, loaded.LogLevel)
	setString(&base.LogFormat, loaded.LogFormat)

	if c := loaded.Chat; c != nil {
		setString(&base.Chat.Provider, c.Provider)
		setString(&base.Chat.Model, c.Model)
		setString(&base.Chat.SystemPrompt, c.SystemPrompt)
		setString(&base.Chat.APIKeyEnv, c.APIKeyEnv)
		if c.MaxTokens != nil {
			base.Chat.MaxTokens = *c.MaxTokens
		}
	}

	for _, tool := range loaded.Tools {
		replaced := false
		for i := range base.Tools {
			if strings.EqualFold(base.Tools[i].Name, tool.Name) {
				base.Tools[i] = tool
				replaced = true
				break
			}
		}
		if !replaced {
			base.Tools = append(base.Tools, tool)
		}
	}

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
