// Package engine defines the domain model shared by the dual-store memory
// persistence engine: the memory record, the per-user durable document, index
// row shapes, and the engine's error kinds.
package engine

import (
	"time"
)

// Memory is the unit of durable content.
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Source    string    `json:"source"`
	Tags      string    `json:"tags"` // comma-joined, stored as given
	Embedding []float32 `json:"embedding,omitempty"`
	Model     string    `json:"model,omitempty"` // embedding model version
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentMetadata summarises a durable document.
type DocumentMetadata struct {
	TotalMemories int       `json:"total_memories"`
	LastUpdated   time.Time `json:"last_updated"`
}

// DurableDocument is the per-user JSON document that is the system of record.
// Invariant: Metadata.TotalMemories == len(Memories) after every successful write.
type DurableDocument struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Memories  map[string]Memory `json:"memories"`
	Metadata  DocumentMetadata  `json:"metadata"`
}

// NewDurableDocument returns an empty document. Absence of the stored document
// is always read as this, never as an error.
func NewDurableDocument(now time.Time) *DurableDocument {
	return &DurableDocument{
		Version:   1,
		CreatedAt: now,
		Memories:  make(map[string]Memory),
		Metadata: DocumentMetadata{
			TotalMemories: 0,
			LastUpdated:   now,
		},
	}
}

// Touch recomputes the document metadata after a mutation.
func (d *DurableDocument) Touch(now time.Time) {
	d.Metadata.TotalMemories = len(d.Memories)
	d.Metadata.LastUpdated = now
}

// UpdateRequest carries a partial update. Each Set* discriminator records
// whether the field was supplied, so "omitted" and "explicitly cleared" stay
// distinguishable.
type UpdateRequest struct {
	Content     string
	SetContent  bool
	Category    string
	SetCategory bool
	Source      string
	SetSource   bool
	Tags        string
	SetTags     bool
}

// Empty reports whether the request supplies no fields at all.
func (u UpdateRequest) Empty() bool {
	return !u.SetContent && !u.SetCategory && !u.SetSource && !u.SetTags
}

// MetadataRow is one MetadataIndex entry, mirroring a memory's metadata for
// listing and filtering without touching the durable store.
type MetadataRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Source    string    `json:"source"`
	Tags      string    `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbeddingRow is one VectorIndex entry. At most one row per memory id is the
// structural invariant; duplicates are representable so the reconciler can
// detect them.
type EmbeddingRow struct {
	MemoryID   string    `json:"memory_id"`
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListFilters narrows a metadata listing. Zero values mean "no filter".
// Tag filtering is substring matching, not set membership.
type ListFilters struct {
	Category string
	Source   string
	Tag      string
	Limit    int
	Offset   int
}

// ScoredID is one ranked similarity result.
type ScoredID struct {
	MemoryID string  `json:"memory_id"`
	Score    float64 `json:"score"`
}

// SearchResult is one search hit with full content attached.
type SearchResult struct {
	Memory Memory  `json:"memory"`
	Score  float64 `json:"score"`
}

// StoreLocation identifies a user's durable document container.
type StoreLocation struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// IsZero reports whether the location is unset.
func (s StoreLocation) IsZero() bool {
	return s.Owner == "" && s.Repo == ""
}

// User identifies an owner and the coordinates of their durable store.
type User struct {
	ID            string        `json:"id"`
	Credential    string        `json:"-"`
	StoreLocation StoreLocation `json:"store_location"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
