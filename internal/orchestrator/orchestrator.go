// Package orchestrator coordinates the dual-store write path: every mutation
// lands in the durable document store first, then mirrors into the metadata
// and vector indexes. The durable store is the system of record; index
// failures after a durable success are surfaced to the caller and left for
// the reconciler to repair.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/lewisedginton/memory_vault/internal/durable"
	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/internal/index"
	"github.com/lewisedginton/memory_vault/internal/llm"
	"github.com/lewisedginton/memory_vault/pkg/logger"
	"github.com/lewisedginton/memory_vault/pkg/metrics"
	"github.com/lewisedginton/memory_vault/pkg/prefixed_uuid"
	"github.com/lewisedginton/memory_vault/pkg/userlock"
)

// MemoryIDPrefix prefixes every generated memory id.
const MemoryIDPrefix = "mem"

// FallbackCategory is assigned when categorization fails or answers outside
// the configured vocabulary.
const FallbackCategory = "Other"

// DefaultVocabulary is the category vocabulary used when none is configured.
var DefaultVocabulary = []string{"Personal Info", "Preferences", "Work", "Relationships", "Events", FallbackCategory}

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	cacheTTL           = 5 * time.Minute
)

// CreateRequest carries the fields of a new memory.
type CreateRequest struct {
	Content  string
	Category string
	Source   string
	Tags     string
}

// SearchRequest carries a similarity query.
type SearchRequest struct {
	Query    string
	Limit    int
	MinScore float64
}

// ImportItem is one entry of a bulk import.
type ImportItem struct {
	Content string
	Source  string
	Tags    string
}

// ImportReport summarises a bulk import. Skipped items are those whose
// durable write failed; the batch itself never aborts.
type ImportReport struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	IDs       []string `json:"ids"`
}

// Orchestrator is the storage facade. All mutations for one user are
// serialized; operations for distinct users run concurrently.
type Orchestrator struct {
	documents  *durable.DocumentStore
	metadata   index.MetadataIndex
	vectors    index.VectorIndex
	embedder   llm.Embedder
	categorize llm.Categorizer
	vocabulary []string
	locks      *userlock.Keyed
	cache      *ristretto.Cache
	metrics    *metrics.Metrics
	log        logger.Logger
}

// Config holds the orchestrator's collaborators. Categorizer is optional; it
// is only exercised by the import path.
type Config struct {
	Documents   *durable.DocumentStore
	Metadata    index.MetadataIndex
	Vectors     index.VectorIndex
	Embedder    llm.Embedder
	Categorizer llm.Categorizer
	Vocabulary  []string
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.Metadata == nil || cfg.Vectors == nil {
		return nil, fmt.Errorf("metadata and vector indexes are required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	vocabulary := cfg.Vocabulary
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Orchestrator{
		documents:  cfg.Documents,
		metadata:   cfg.Metadata,
		vectors:    cfg.Vectors,
		embedder:   cfg.Embedder,
		categorize: cfg.Categorizer,
		vocabulary: vocabulary,
		locks:      userlock.NewKeyed(),
		cache:      cache,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
	}, nil
}

// CreateMemory embeds the content, writes the record durably, then mirrors it
// into both indexes. The durable write is the commit point: if it fails
// nothing else happens, if an index write fails afterwards the error is
// returned and the record stays durable for the reconciler to pick up.
func (o *Orchestrator) CreateMemory(ctx context.Context, userID string, req CreateRequest) (engine.Memory, error) {
	started := time.Now()
	if strings.TrimSpace(req.Content) == "" {
		return engine.Memory{}, fmt.Errorf("content is required: %w", llm.ErrEmptyInput)
	}

	embedding, err := o.embedder.GenerateEmbedding(ctx, req.Content)
	if err != nil {
		return engine.Memory{}, fmt.Errorf("failed to generate embedding: %w", err)
	}

	now := time.Now().UTC()
	mem := engine.Memory{
		ID:        prefixed_uuid.NewString(MemoryIDPrefix),
		Content:   req.Content,
		Category:  req.Category,
		Source:    req.Source,
		Tags:      req.Tags,
		Embedding: embedding,
		Model:     o.embedder.Model(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	o.locks.Lock(userID)
	defer o.locks.Unlock(userID)

	if err := o.documents.Put(ctx, userID, mem); err != nil {
		o.countConflict(err)
		return engine.Memory{}, fmt.Errorf("durable write failed: %w", err)
	}
	if err := o.indexMemory(ctx, userID, mem); err != nil {
		// The record is durable. The reconciler restores the mirror.
		o.log.Error("Index write failed after durable commit",
			logger.UserIDField(userID),
			logger.MemoryIDField(mem.ID),
			logger.ErrorField(err))
		return engine.Memory{}, err
	}

	o.cacheSet(userID, mem)
	if o.metrics != nil {
		o.metrics.MemoriesCreated.Inc()
		o.metrics.ObserveOperation("create", time.Since(started))
	}
	o.log.Info("Memory created",
		logger.UserIDField(userID),
		logger.MemoryIDField(mem.ID),
		logger.StringField("category", mem.Category))
	return mem, nil
}

// GetMemory returns one memory. Ownership is checked through the metadata
// index before the durable store is consulted, so one user can never read
// another user's record even with a guessed id.
func (o *Orchestrator) GetMemory(ctx context.Context, userID, id string) (engine.Memory, error) {
	if mem, ok := o.cacheGet(userID, id); ok {
		return mem, nil
	}

	if _, err := o.metadata.Get(ctx, userID, id); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return engine.Memory{}, fmt.Errorf("memory %s: %w", id, engine.ErrNotFound)
		}
		return engine.Memory{}, err
	}

	mem, err := o.documents.Get(ctx, userID, id)
	if err != nil {
		return engine.Memory{}, err
	}
	o.cacheSet(userID, mem)
	return mem, nil
}

// UpdateMemory applies a partial update. The embedding is regenerated only
// when the content actually changed; metadata-only updates leave the stored
// vector untouched.
func (o *Orchestrator) UpdateMemory(ctx context.Context, userID, id string, req engine.UpdateRequest) (engine.Memory, error) {
	started := time.Now()
	if req.Empty() {
		return engine.Memory{}, fmt.Errorf("update supplies no fields: %w", engine.ErrInvariantViolation)
	}

	o.locks.Lock(userID)
	defer o.locks.Unlock(userID)

	if _, err := o.metadata.Get(ctx, userID, id); err != nil {
		return engine.Memory{}, err
	}
	mem, err := o.documents.Get(ctx, userID, id)
	if err != nil {
		return engine.Memory{}, err
	}

	contentChanged := req.SetContent && req.Content != mem.Content
	if req.SetContent {
		mem.Content = req.Content
	}
	if req.SetCategory {
		mem.Category = req.Category
	}
	if req.SetSource {
		mem.Source = req.Source
	}
	if req.SetTags {
		mem.Tags = req.Tags
	}

	if contentChanged {
		if strings.TrimSpace(mem.Content) == "" {
			return engine.Memory{}, fmt.Errorf("content is required: %w", llm.ErrEmptyInput)
		}
		embedding, err := o.embedder.GenerateEmbedding(ctx, mem.Content)
		if err != nil {
			return engine.Memory{}, fmt.Errorf("failed to regenerate embedding: %w", err)
		}
		mem.Embedding = embedding
		mem.Model = o.embedder.Model()
	}
	mem.UpdatedAt = time.Now().UTC()

	if err := o.documents.Put(ctx, userID, mem); err != nil {
		o.countConflict(err)
		return engine.Memory{}, fmt.Errorf("durable write failed: %w", err)
	}
	if err := o.indexMemory(ctx, userID, mem); err != nil {
		o.log.Error("Index write failed after durable commit",
			logger.UserIDField(userID),
			logger.MemoryIDField(mem.ID),
			logger.ErrorField(err))
		return engine.Memory{}, err
	}

	o.cacheSet(userID, mem)
	if o.metrics != nil {
		o.metrics.MemoriesUpdated.Inc()
		o.metrics.ObserveOperation("update", time.Since(started))
	}
	o.log.Info("Memory updated",
		logger.UserIDField(userID),
		logger.MemoryIDField(mem.ID),
		logger.BoolField("content_changed", contentChanged))
	return mem, nil
}

// DeleteMemory removes a memory from the durable store and both indexes, in
// that order. A durable delete failure leaves the indexes untouched; an index
// delete failure after the durable delete is returned for the reconciler.
func (o *Orchestrator) DeleteMemory(ctx context.Context, userID, id string) error {
	started := time.Now()

	o.locks.Lock(userID)
	defer o.locks.Unlock(userID)

	if _, err := o.metadata.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := o.documents.Delete(ctx, userID, id); err != nil {
		o.countConflict(err)
		return fmt.Errorf("durable delete failed: %w", err)
	}
	o.cacheDel(userID, id)

	if err := o.metadata.Delete(ctx, id); err != nil {
		o.log.Error("Metadata delete failed after durable delete",
			logger.UserIDField(userID),
			logger.MemoryIDField(id),
			logger.ErrorField(err))
		return err
	}
	if err := o.vectors.Delete(ctx, id); err != nil {
		o.log.Error("Vector delete failed after durable delete",
			logger.UserIDField(userID),
			logger.MemoryIDField(id),
			logger.ErrorField(err))
		return err
	}

	if o.metrics != nil {
		o.metrics.MemoriesDeleted.Inc()
		o.metrics.ObserveOperation("delete", time.Since(started))
	}
	o.log.Info("Memory deleted",
		logger.UserIDField(userID),
		logger.MemoryIDField(id))
	return nil
}

// SearchMemories embeds the query, ranks the user's stored vectors, then
// fetches the ranked records durably. Ranked ids whose durable fetch fails
// are dropped from the result rather than failing the search.
func (o *Orchestrator) SearchMemories(ctx context.Context, userID string, req SearchRequest) ([]engine.SearchResult, error) {
	started := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is required: %w", llm.ErrEmptyInput)
	}
	limit := clampLimit(req.Limit)

	queryEmbedding, err := o.embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	scored, err := o.vectors.Rank(ctx, userID, queryEmbedding, limit, req.MinScore)
	if err != nil {
		return nil, err
	}

	results := make([]engine.SearchResult, 0, len(scored))
	for _, hit := range scored {
		mem, err := o.fetchForSearch(ctx, userID, hit.MemoryID)
		if err != nil {
			o.log.Warn("Dropping ranked id from search result",
				logger.UserIDField(userID),
				logger.MemoryIDField(hit.MemoryID),
				logger.ErrorField(err))
			if o.metrics != nil {
				o.metrics.SearchHitsDropped.Inc()
			}
			continue
		}
		results = append(results, engine.SearchResult{Memory: mem, Score: hit.Score})
	}

	if o.metrics != nil {
		o.metrics.SearchesTotal.Inc()
		o.metrics.ObserveOperation("search", time.Since(started))
	}
	return results, nil
}

// RelatedMemories returns memories similar to an existing one, ranked against
// its stored vector and excluding the memory itself.
func (o *Orchestrator) RelatedMemories(ctx context.Context, userID, id string, limit int, minScore float64) ([]engine.SearchResult, error) {
	if _, err := o.metadata.Get(ctx, userID, id); err != nil {
		return nil, err
	}

	scored, err := o.vectors.Neighbors(ctx, id, userID, clampLimit(limit), minScore)
	if err != nil {
		return nil, err
	}

	results := make([]engine.SearchResult, 0, len(scored))
	for _, hit := range scored {
		mem, err := o.fetchForSearch(ctx, userID, hit.MemoryID)
		if err != nil {
			if o.metrics != nil {
				o.metrics.SearchHitsDropped.Inc()
			}
			continue
		}
		results = append(results, engine.SearchResult{Memory: mem, Score: hit.Score})
	}
	return results, nil
}

// ListMemories lists metadata rows. The durable store is not consulted; this
// is the fast path over the relational mirror.
func (o *Orchestrator) ListMemories(ctx context.Context, userID string, filters engine.ListFilters) ([]engine.MetadataRow, int, error) {
	rows, err := o.metadata.List(ctx, userID, filters)
	if err != nil {
		return nil, 0, err
	}
	total, err := o.metadata.Count(ctx, userID, filters)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ImportMemories creates a batch of memories with best-effort categorization.
// A categorization failure or an out-of-vocabulary answer falls back to
// FallbackCategory; a write failure skips the item. The batch never aborts.
func (o *Orchestrator) ImportMemories(ctx context.Context, userID string, items []ImportItem) (ImportReport, error) {
	started := time.Now()
	report := ImportReport{IDs: make([]string, 0, len(items))}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		category := o.categorizeWithFallback(ctx, item.Content)
		mem, err := o.CreateMemory(ctx, userID, CreateRequest{
			Content:  item.Content,
			Category: category,
			Source:   item.Source,
			Tags:     item.Tags,
		})
		if err != nil {
			o.log.Warn("Skipping import item",
				logger.UserIDField(userID),
				logger.IntField("item", i),
				logger.ErrorField(err))
			report.Skipped++
			continue
		}
		report.Processed++
		report.IDs = append(report.IDs, mem.ID)
	}

	if o.metrics != nil {
		o.metrics.ObserveOperation("import", time.Since(started))
	}
	o.log.Info("Import finished",
		logger.UserIDField(userID),
		logger.IntField("processed", report.Processed),
		logger.IntField("skipped", report.Skipped))
	return report, nil
}

// Close releases the read-your-writes cache.
func (o *Orchestrator) Close() {
	o.cache.Close()
}

// categorizeWithFallback asks the categorizer for a vocabulary label and
// substitutes FallbackCategory on any failure or out-of-vocabulary answer.
func (o *Orchestrator) categorizeWithFallback(ctx context.Context, content string) string {
	if o.categorize == nil {
		return FallbackCategory
	}
	answer, err := o.categorize.Categorize(ctx, content, o.vocabulary)
	if err == nil {
		for _, label := range o.vocabulary {
			if answer.Category == label {
				return answer.Category
			}
		}
	}
	if o.metrics != nil {
		o.metrics.CategoryFallbacks.Inc()
	}
	o.log.Warn("Categorization fell back",
		logger.StringField("category", FallbackCategory),
		logger.ErrorField(err))
	return FallbackCategory
}

// indexMemory mirrors a memory into both indexes. Metadata first: the vector
// upsert refuses to create a row without a matching metadata row.
func (o *Orchestrator) indexMemory(ctx context.Context, userID string, mem engine.Memory) error {
	row := engine.MetadataRow{
		ID:        mem.ID,
		UserID:    userID,
		Category:  mem.Category,
		Source:    mem.Source,
		Tags:      mem.Tags,
		CreatedAt: mem.CreatedAt,
		UpdatedAt: mem.UpdatedAt,
	}
	if err := o.metadata.Upsert(ctx, row); err != nil {
		return fmt.Errorf("metadata upsert failed: %w", err)
	}
	if err := o.vectors.Upsert(ctx, mem.ID, mem.Embedding, mem.Model); err != nil {
		return fmt.Errorf("vector upsert failed: %w", err)
	}
	return nil
}

// fetchForSearch prefers the cache and falls back to the durable store.
func (o *Orchestrator) fetchForSearch(ctx context.Context, userID, id string) (engine.Memory, error) {
	if mem, ok := o.cacheGet(userID, id); ok {
		return mem, nil
	}
	return o.documents.Get(ctx, userID, id)
}

func (o *Orchestrator) cacheKey(userID, id string) string {
	return userID + "/" + id
}

func (o *Orchestrator) cacheSet(userID string, mem engine.Memory) {
	o.cache.SetWithTTL(o.cacheKey(userID, mem.ID), mem, int64(len(mem.Content)+1), cacheTTL)
}

func (o *Orchestrator) cacheGet(userID, id string) (engine.Memory, bool) {
	value, ok := o.cache.Get(o.cacheKey(userID, id))
	if !ok {
		return engine.Memory{}, false
	}
	mem, ok := value.(engine.Memory)
	return mem, ok
}

func (o *Orchestrator) cacheDel(userID, id string) {
	o.cache.Del(o.cacheKey(userID, id))
}

// countConflict records durable writes that lost against another writer even
// after the store's retries.
func (o *Orchestrator) countConflict(err error) {
	if o.metrics != nil && errors.Is(err, engine.ErrVersionConflict) {
		o.metrics.VersionConflicts.Inc()
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
