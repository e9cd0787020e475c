// Package openai implements the llm collaborator contracts against the
// OpenAI API: the embeddings endpoint for vectors and chat completions for
// categorization.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/internal/llm"
)

// Default model names.
const (
	DefaultEmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	DefaultChatModel      = string(openai.ChatModelGPT4oMini)
)

// Client implements llm.Embedder and llm.Categorizer.
type Client struct {
	client         openai.Client
	embeddingModel string
	chatModel      string
}

// Config holds configuration for the OpenAI collaborator.
type Config struct {
	APIKey         string
	BaseURL        string // optional override, e.g. a proxy or test server
	EmbeddingModel string
	ChatModel      string
}

// New creates an OpenAI-backed collaborator client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}

	return &Client{
		client:         openai.NewClient(opts...),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
	}, nil
}

// Model returns the embedding model version.
func (c *Client) Model() string {
	return c.embeddingModel
}

// GenerateEmbedding produces an embedding vector for text.
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyInput
	}

	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w: %v", engine.ErrUpstreamUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response carried no data: %w", engine.ErrUpstreamUnavailable)
	}

	raw := resp.Data[0].Embedding
	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	return vector, nil
}

const categorizeSystemPrompt = `You are a classifier for short personal memory notes. ` +
	`Given a note and a list of allowed categories, pick the single best category. ` +
	`Answer with a JSON object only: {"category": "...", "confidence": 0.0-1.0, "reasoning": "..."}. ` +
	`The category MUST be one of the allowed values.`

// Categorize assigns one of the vocabulary labels to text.
func (c *Client) Categorize(ctx context.Context, text string, vocabulary []string) (llm.Categorization, error) {
	prompt := fmt.Sprintf("Allowed categories: %s\n\nNote:\n%s", strings.Join(vocabulary, ", "), text)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(categorizeSystemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return llm.Categorization{}, fmt.Errorf("categorize request failed: %w: %v", engine.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return llm.Categorization{}, fmt.Errorf("categorize response carried no choices: %w", engine.ErrUpstreamUnavailable)
	}

	return parseCategorization(resp.Choices[0].Message.Content)
}

// parseCategorization extracts the JSON answer, tolerating surrounding prose
// or a code fence.
func parseCategorization(content string) (llm.Categorization, error) {
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
