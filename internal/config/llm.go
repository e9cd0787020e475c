package config

import "fmt"

// LLM provider constants
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderMock   = "mock"
)

// LLMConfig selects the external model collaborators
type LLMConfig struct {
	// EmbedderProvider selects the embedding backend: "openai" or "mock"
	EmbedderProvider string `env:"EMBEDDER_PROVIDER" yaml:"embedder_provider" default:"openai"`

	// CategorizerProvider selects the categorization backend: "openai",
	// "claude", or "mock"
	CategorizerProvider string `env:"CATEGORIZER_PROVIDER" yaml:"categorizer_provider" default:"openai"`
}

// Validate checks the provider selections.
func (c *LLMConfig) Validate() error {
	switch c.EmbedderProvider {
	case ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("embedder_provider must be one of [openai, mock], got %q", c.EmbedderProvider)
	}
	switch c.CategorizerProvider {
	case ProviderOpenAI, ProviderClaude, ProviderMock:
	default:
		return fmt.Errorf("categorizer_provider must be one of [openai, claude, mock], got %q", c.CategorizerProvider)
	}
	return nil
}
