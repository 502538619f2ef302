package chat

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aristath/specrunner/internal/config"
)

// Model answers a conversation with the next assistant message.
type Model interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
	Provider() string
}

// NewModel builds the model selected by cfg. The API key is read from the
// environment variable named by cfg.APIKeyEnv, falling back to the SDK's own
// environment lookup when unset.
func NewModel(cfg config.ChatConfig) (Model, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "anthropic":
		return NewAnthropicModel(apiKey, cfg.Model, cfg.MaxTokens), nil
	case "openai":
		return NewOpenAIModel(apiKey, cfg.Model, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown chat provider: %s", cfg.Provider)
	}
}
