package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicEngine drives replies through the official Anthropic client.
type AnthropicEngine struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicEngine builds an engine for the given model (defaults to
// Claude 3.5 Haiku, fast enough for the half-duplex reply budget).
func NewAnthropicEngine(apiKey string, model string) *AnthropicEngine {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}
	return &AnthropicEngine{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

func (e *AnthropicEngine) Reply(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, t := range history {
		if t.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userText)))

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: DefaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("llm: anthropic completion: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("llm: anthropic returned no content")
	}
	return strings.TrimSpace(resp.Content[0].Text), nil
}

func (e *AnthropicEngine) Name() string { return "anthropic" }
func (e *AnthropicEngine) Close() error { return nil }
