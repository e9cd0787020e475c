// Package reconciler detects and repairs divergence between the durable
// document store and the relational indexes. The durable store is
// authoritative for existence: rows without a durable record are orphans and
// get deleted, durable records without rows get their index side re-derived.
// It runs as an explicit maintenance operation, never on the request path.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/lewisedginton/memory_vault/internal/durable"
	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/internal/index"
	"github.com/lewisedginton/memory_vault/internal/llm"
	"github.com/lewisedginton/memory_vault/pkg/logger"
	"github.com/lewisedginton/memory_vault/pkg/metrics"
)

// Report summarises one consistency pass over a user's stores. The repair
// counters stay zero in check mode.
type Report struct {
	UserID                    string `json:"user_id"`
	TotalMemories             int    `json:"total_memories"`
	TotalEmbeddings           int    `json:"total_embeddings"`
	MemoriesWithoutEmbeddings int    `json:"memories_without_embeddings"`
	EmbeddingsWithoutMemories int    `json:"embeddings_without_memories"`
	DuplicateEmbeddings       int    `json:"duplicate_embeddings"`
	OrphanedMetadataRows      int    `json:"orphaned_metadata_rows"`

	MetadataRowsRestored int `json:"metadata_rows_restored,omitempty"`
	MetadataRowsDeleted  int `json:"metadata_rows_deleted,omitempty"`
	EmbeddingsRestored   int `json:"embeddings_restored,omitempty"`
	OrphanVectorsDeleted int `json:"orphan_vectors_deleted,omitempty"`
}

// Repairs returns how many repairs the pass performed.
func (r Report) Repairs() int {
	return r.MetadataRowsRestored + r.MetadataRowsDeleted + r.EmbeddingsRestored + r.OrphanVectorsDeleted
}

// Consistent reports whether the pass found no divergence.
func (r Report) Consistent() bool {
	return r.MemoriesWithoutEmbeddings == 0 &&
		r.EmbeddingsWithoutMemories == 0 &&
		r.DuplicateEmbeddings == 0 &&
		r.OrphanedMetadataRows == 0
}

// Reconciler walks a user's durable document and index rows and re-derives
// whichever side is missing.
type Reconciler struct {
	documents *durable.DocumentStore
	metadata  index.MetadataIndex
	vectors   index.VectorIndex
	embedder  llm.Embedder
	metrics   *metrics.Metrics
	log       logger.Logger
}

// Config holds the reconciler's collaborators. Embedder is required only for
// repair mode, where missing embeddings may have to be regenerated.
type Config struct {
	Documents *durable.DocumentStore
	Metadata  index.MetadataIndex
	Vectors   index.VectorIndex
	Embedder  llm.Embedder
	Metrics   *metrics.Metrics
	Logger    logger.Logger
}

// New creates a reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.Metadata == nil || cfg.Vectors == nil {
		return nil, fmt.Errorf("metadata and vector indexes are required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Reconciler{
		documents: cfg.Documents,
		metadata:  cfg.Metadata,
		vectors:   cfg.Vectors,
		embedder:  cfg.Embedder,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}, nil
}

// Check runs a read-only consistency pass for one user.
func (r *Reconciler) Check(ctx context.Context, userID string) (Report, error) {
	return r.run(ctx, userID, false)
}

// Repair runs a consistency pass and fixes what it can: orphaned rows are
// deleted, missing rows and embeddings re-derived. Duplicate embeddings are
// only reported; picking a survivor is an operator decision.
func (r *Reconciler) Repair(ctx context.Context, userID string) (Report, error) {
	if r.embedder == nil {
		return Report{}, fmt.Errorf("repair mode requires an embedder")
	}
	return r.run(ctx, userID, true)
}

func (r *Reconciler) run(ctx context.Context, userID string, repair bool) (Report, error) {
	report := Report{UserID: userID}
	if r.metrics != nil {
		r.metrics.ReconcilerRuns.Inc()
	}

	doc, err := r.documents.Document(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to load durable document: %w", err)
	}
	report.TotalMemories = len(doc.Memories)

	indexIDs, err := r.metadata.IDs(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to list index ids: %w", err)
	}
	indexed := make(map[string]bool, len(indexIDs))
	for _, id := range indexIDs {
		indexed[id] = true
	}

	// Metadata rows with no durable record are stale leftovers of an
	// interrupted delete. The durable store wins.
	for _, id := range indexIDs {
		if _, ok := doc.Memories[id]; ok {
			continue
		}
		report.OrphanedMetadataRows++
		if !repair {
			continue
		}
		if err := r.metadata.Delete(ctx, id); err != nil {
			return report, fmt.Errorf("failed to delete orphaned metadata row %s: %w", id, err)
		}
		if err := r.vectors.Delete(ctx, id); err != nil {
			return report, fmt.Errorf("failed to delete vectors for orphaned row %s: %w", id, err)
		}
		report.MetadataRowsDeleted++
		r.log.Info("Deleted orphaned metadata row",
			logger.UserIDField(userID),
			logger.MemoryIDField(id))
	}

	// Durable records with no metadata row lost their mirror to an
	// interrupted create. Re-derive the row.
	for id, mem := range doc.Memories {
		if indexed[id] {
			continue
		}
		if !repair {
			continue
		}
		if err := r.metadata.Upsert(ctx, engine.MetadataRow{
			ID:        id,
			UserID:    userID,
			Category:  mem.Category,
			Source:    mem.Source,
			Tags:      mem.Tags,
			CreatedAt: mem.CreatedAt,
			UpdatedAt: mem.UpdatedAt,
		}); err != nil {
			return report, fmt.Errorf("failed to restore metadata row %s: %w", id, err)
		}
		indexed[id] = true
		report.MetadataRowsRestored++
		r.log.Info("Restored metadata row",
			logger.UserIDField(userID),
			logger.MemoryIDField(id))
	}

	rows, err := r.vectors.Rows(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to list embedding rows: %w", err)
	}
	report.TotalEmbeddings = len(rows)

	perMemory := make(map[string]int, len(rows))
	for _, row := range rows {
		perMemory[row.MemoryID]++
	}
	for id, n := range perMemory {
		if n > 1 {
			report.DuplicateEmbeddings++
			r.log.Warn("Duplicate embedding rows detected",
				logger.UserIDField(userID),
				logger.MemoryIDField(id),
				logger.IntField("rows", n))
		}
	}

	// Vector rows reachable only outside any metadata row. The metadata index
	// is the id universe for this check.
	orphans, err := r.vectors.OrphanIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list orphaned vectors: %w", err)
	}
	report.EmbeddingsWithoutMemories = len(orphans)
	if repair {
		for _, id := range orphans {
			if err := r.vectors.Delete(ctx, id); err != nil {
				return report, fmt.Errorf("failed to delete orphaned vector %s: %w", id, err)
			}
			report.OrphanVectorsDeleted++
			r.log.Info("Deleted orphaned embedding", logger.MemoryIDField(id))
		}
	}

	// Durable records with no embedding row. The stored vector is reused when
	// the document still carries it, regenerated otherwise.
	for id, mem := range doc.Memories {
		if perMemory[id] > 0 {
			continue
		}
		report.MemoriesWithoutEmbeddings++
		if !repair {
			continue
		}
		embedding := mem.Embedding
		model := mem.Model
		if len(embedding) == 0 {
			embedding, err = r.embedder.GenerateEmbedding(ctx, mem.Content)
			if err != nil {
				if errors.Is(err, llm.ErrEmptyInput) {
					r.log.Warn("Skipping embedding repair for empty content",
						logger.UserIDField(userID),
						logger.MemoryIDField(id))
					continue
				}
				return report, fmt.Errorf("failed to regenerate embedding for %s: %w", id, err)
			}
			model = r.embedder.Model()
		}
		if err := r.vectors.Upsert(ctx, id, embedding, model); err != nil {
			return report, fmt.Errorf("failed to restore embedding for %s: %w", id, err)
		}
		report.EmbeddingsRestored++
		r.log.Info("Restored embedding",
			logger.UserIDField(userID),
			logger.MemoryIDField(id))
	}

	if r.metrics != nil && report.Repairs() > 0 {
		r.metrics.ReconcilerRepairs.Add(float64(report.Repairs()))
	}
	r.log.Info("Consistency pass finished",
		logger.UserIDField(userID),
		logger.BoolField("repair", repair),
		logger.IntField("memories", report.TotalMemories),
		logger.IntField("embeddings", report.TotalEmbeddings),
		logger.IntField("repairs", report.Repairs()))
	return report, nil
}
