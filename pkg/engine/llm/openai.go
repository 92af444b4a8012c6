package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIEngine drives replies through the official OpenAI client,
// replacing the teacher's hand-rolled HTTP client (see DESIGN.md).
type OpenAIEngine struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAIEngine builds an engine for the given model (defaults to
// gpt-4o-mini, a good fit for the short, bounded replies R needs).
func NewOpenAIEngine(apiKey string, model string) *OpenAIEngine {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &OpenAIEngine{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (e *OpenAIEngine) Reply(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, t := range history {
		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.Content))
		} else {
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userText))

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       e.model,
		Messages:    messages,
		MaxTokens:   openai.Int(DefaultMaxTokens),
		Temperature: openai.Float(DefaultTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("llm: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (e *OpenAIEngine) Name() string { return "openai" }
func (e *OpenAIEngine) Close() error { return nil }
