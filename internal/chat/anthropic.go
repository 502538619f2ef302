package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = anthropic.ModelClaude3_5Sonnet20241022

// AnthropicModel calls the Anthropic Messages API.
type AnthropicModel struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicModel creates a model. Empty apiKey defers to ANTHROPIC_API_KEY.
func NewAnthropicModel(apiKey, model string, maxTokens int64) *AnthropicModel {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)

	m := &AnthropicModel{
		client:    &client,
		model:     defaultAnthropicModel,
		maxTokens: 4096,
	}
	if model != "" {
		m.model = anthropic.Model(model)
	}
	if maxTokens > 0 {
		m.maxTokens = maxTokens
	}
	return m
}

func (m *AnthropicModel) Provider() string { return "anthropic" }

// Complete sends the conversation and returns the concatenated text blocks.
func (m *AnthropicModel) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: m.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			if text := block.AsText().Text; text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return "", errors.New("anthropic returned no text")
	}
	return strings.Join(parts, "\n"), nil
}
