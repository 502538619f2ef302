package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAIModel calls the OpenAI Chat Completions API.
type OpenAIModel struct {
	client    *openai.Client
	model     string
	maxTokens int64
}

// NewOpenAIModel creates a model. Empty apiKey defers to OPENAI_API_KEY.
func NewOpenAIModel(apiKey, model string, maxTokens int64) *OpenAIModel {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)

	m := &OpenAIModel{
		client:    &client,
		model:     defaultOpenAIModel,
		maxTokens: 4096,
	}
	if model != "" {
		m.model = model
	}
	if maxTokens > 0 {
		m.maxTokens = maxTokens
	}
	return m
}

func (m *OpenAIModel) Provider() string { return "openai" }

// Complete sends the conversation and returns the first choice's content.
func (m *OpenAIModel) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		if msg.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(msg.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(msg.Content))
		}
	}

	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               m.model,
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(m.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
