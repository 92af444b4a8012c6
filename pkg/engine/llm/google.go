package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GoogleEngine drives replies through the official Gemini client.
type GoogleEngine struct {
	client *genai.Client
	model  string
}

// NewGoogleEngine builds an engine for the given model (defaults to
// gemini-1.5-flash).
func NewGoogleEngine(ctx context.Context, apiKey string, model string) (*GoogleEngine, error) {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: google client: %w", err)
	}
	return &GoogleEngine{client: client, model: model}, nil
}

func (e *GoogleEngine) Reply(ctx context.Context, systemPrompt string, history []Turn, userText string) (string, error) {
	var contents []*genai.Content
	for _, t := range history {
		role := genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))

	maxTokens := int32(DefaultMaxTokens)
	temperature := float32(DefaultTemperature)
	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		MaxOutputTokens:   maxTokens,
		Temperature:       &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm: google completion: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (e *GoogleEngine) Name() string { return "google" }
func (e *GoogleEngine) Close() error { return nil }
