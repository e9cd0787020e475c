// Package llmtest provides deterministic in-process implementations of the
// llm collaborator contracts for tests and development mode. No network, no
// API keys.
package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/lewisedginton/memory_vault/internal/llm"
)

// EmbedderModel is the model name the mock embedder reports.
const EmbedderModel = "mock-bag-of-words-v1"

// Embedder generates deterministic embeddings by hashing tokens into a
// fixed-size bag-of-words vector. Texts sharing words get positive cosine
// similarity, which is what retrieval tests need.
type Embedder struct {
	dimensions int

	mu    sync.Mutex
	calls int
	fail  error
}

// NewEmbedder creates a mock embedder with the given dimensionality.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &Embedder{dimensions: dimensions}
}

// Model returns the mock model identifier.
func (e *Embedder) Model() string { return EmbedderModel }

// Calls reports how many embeddings were generated.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// FailWith makes subsequent calls return err (nil restores normal behavior).
func (e *Embedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = err
}

// GenerateEmbedding produces a normalized bag-of-words vector for text.
func (e *Embedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyInput
	}

	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	vector := make([]float32, e.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		vector[h.Sum64()%uint64(e.dimensions)]++
	}
	return normalize(vector), nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// Categorizer answers with a scripted categorization, defaulting to the
// first vocabulary entry with full confidence.
type Categorizer struct {
	mu     sync.Mutex
	answer *llm.Categorization
	fail   error
	calls  int
}

// NewCategorizer creates a mock categorizer.
func NewCategorizer() *Categorizer {
	return &Categorizer{}
}

// Answer fixes the categorization returned by subsequent calls.
func (c *Categorizer) Answer(answer llm.Categorization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answer = &answer
}

// FailWith makes subsequent calls return err (nil restores normal behavior).
func (c *Categorizer) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// Calls reports how many categorizations were requested.
func (c *Categorizer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Categorize returns the scripted answer.
func (c *Categorizer) Categorize(ctx context.Context, text string, vocabulary []string) (llm.Categorization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail != nil {
		return llm.Categorization{}, c.fail
	}
	if c.answer != nil {
		return *c.answer, nil
	}
	if len(vocabulary) == 0 {
		return llm.Categorization{Category: "", Confidence: 1}, nil
	}
	return llm.Categorization{Category: vocabulary[0], Confidence: 1, Reasoning: "scripted"}, nil
}
