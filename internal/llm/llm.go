// Package llm defines the external model collaborators the engine depends
// on: embedding generation and text categorization. The engine treats both as
// opaque functions with a response contract; concrete backends live in the
// subpackages.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyInput marks an embedding request for empty text. Kept distinct from
// operational failures so callers can tell "nothing to embed" from "the
// collaborator broke".
var ErrEmptyInput = errors.New("empty input")

// Embedder generates a fixed-length embedding vector for a text. The
// dimensionality is deterministic per model version.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Model identifies the embedding model version, recorded alongside each
	// stored vector.
	Model() string
}

// Categorization is the categorizer's answer.
type Categorization struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Categorizer assigns one label from a bounded vocabulary to a text. The
// contract requires Category to be a member of vocabulary; callers substitute
// a fallback label when a backend answers outside it.
type Categorizer interface {
	Categorize(ctx context.Context, text string, vocabulary []string) (Categorization, error)
}
