// Package anthropic implements the llm.Categorizer contract against the
// Anthropic Messages API. Anthropic exposes no embeddings endpoint, so this
// backend covers categorization only; pair it with another Embedder.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/internal/llm"
)

// Client implements llm.Categorizer.
type Client struct {
	client    anthropic.Client
	modelName string
}

// Config holds configuration for the Anthropic collaborator.
type Config struct {
	APIKey string
	Model  string
}

// New creates an Anthropic-backed categorizer.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}

	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		modelName: modelName,
	}, nil
}

const categorizeSystemPrompt = `You are a classifier for short personal memory notes. ` +
	`Given a note and a list of allowed categories, pick the single best category. ` +
	`Answer with a JSON object only: {"category": "...", "confidence": 0.0-1.0, "reasoning": "..."}. ` +
	`The category MUST be one of the allowed values.`

// Categorize assigns one of the vocabulary labels to text.
func (c *Client) Categorize(ctx context.Context, text string, vocabulary []string) (llm.Categorization, error) {
	prompt := fmt.Sprintf("Allowed categories: %s\n\nNote:\n%s", strings.Join(vocabulary, ", "), text)

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelName),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: categorizeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return llm.Categorization{}, fmt.Errorf("categorize request failed: %w: %v", engine.ErrUpstreamUnavailable, err)
	}

	var answer strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			answer.WriteString(block.Text)
		}
	}

	content := answer.String()
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return llm.Categorization{}, fmt.Errorf("categorize answer carried no JSON object: %q", content)
	}

	var result llm.Categorization
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return llm.Categorization{}, fmt.Errorf("parse categorize answer: %w", err)
	}
	return result, nil
}
