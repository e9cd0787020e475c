package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_vault/internal/durable"
	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/internal/index"
	"github.com/lewisedginton/memory_vault/internal/llm"
	"github.com/lewisedginton/memory_vault/internal/llm/llmtest"
	"github.com/lewisedginton/memory_vault/pkg/logger"
)

// memoryAPI is an in-memory durable.API with the version-token contract.
type memoryAPI struct {
	mu   sync.Mutex
	docs map[string][]byte
	vers map[string]int
}

func newMemoryAPI() *memoryAPI {
	return &memoryAPI{docs: make(map[string][]byte), vers: make(map[string]int)}
}

func (m *memoryAPI) GetDocument(ctx context.Context, cred durable.Credential, owner, repo, path string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := owner + "/" + repo + "/" + path
	content, ok := m.docs[key]
	if !ok {
		return nil, "", engine.ErrNotFound
	}
	return content, fmt.Sprintf("v%d", m.vers[key]), nil
}

func (m *memoryAPI) PutDocument(ctx context.Context, cred durable.Credential, owner, repo, path string, content []byte, expectedVersion, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := owner + "/" + repo + "/" + path
	_, exists := m.docs[key]
	current := ""
	if exists {
		current = fmt.Sprintf("v%d", m.vers[key])
	}
	if expectedVersion != current {
		return "", engine.ErrVersionConflict
	}
	m.docs[key] = append([]byte(nil), content...)
	m.vers[key]++
	return fmt.Sprintf("v%d", m.vers[key]), nil
}

func (m *memoryAPI) GetContainer(ctx context.Context, cred durable.Credential, owner, repo string) (durable.ContainerRef, error) {
	return durable.ContainerRef{Owner: owner, Name: repo}, nil
}

func (m *memoryAPI) CreateContainer(ctx context.Context, cred durable.Credential, owner string, spec durable.ContainerSpec) (durable.ContainerRef, error) {
	return durable.ContainerRef{Owner: owner, Name: spec.Name}, nil
}

type staticCreds struct{}

func (staticCreds) Resolve(ctx context.Context, userID string) (engine.User, error) {
	return engine.User{
		ID:            userID,
		Credential:    "token",
		StoreLocation: engine.StoreLocation{Owner: userID, Repo: "memory-vault"},
	}, nil
}

func (s staticCreds) Provision(ctx context.Context, userID string) (engine.User, error) {
	return s.Resolve(ctx, userID)
}

type harness struct {
	orch        *Orchestrator
	documents   *durable.DocumentStore
	idx         *index.MemoryIndex
	embedder    *llmtest.Embedder
	categorizer *llmtest.Categorizer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewLogger(logger.Config{Service: "test", Level: logger.ErrorLevel})

	documents, err := durable.NewDocumentStore(durable.DocumentStoreConfig{
		API:         newMemoryAPI(),
		Credentials: staticCreds{},
		Logger:      log,
	})
	require.NoError(t, err)

	idx := index.NewMemoryIndex()
	embedder := llmtest.NewEmbedder(64)
	categorizer := llmtest.NewCategorizer()

	orch, err := New(Config{
		Documents:   documents,
		Metadata:    idx.Metadata(),
		Vectors:     idx.Vectors(),
		Embedder:    embedder,
		Categorizer: categorizer,
		Logger:      log,
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	return &harness{orch: orch, documents: documents, idx: idx, embedder: embedder, categorizer: categorizer}
}

func TestCreateAndGetMemory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mem, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{
		Content:  "Moved to Berlin in March",
		Category: "Personal Info",
		Source:   "chat",
		Tags:     "location",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^mem-`, mem.ID)
	assert.NotEmpty(t, mem.Embedding)
	assert.Equal(t, llmtest.EmbedderModel, mem.Model)

	got, err := h.orch.GetMemory(ctx, "alice", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Moved to Berlin in March", got.Content)

	// Durable record and both index rows exist.
	_, err = h.documents.Get(ctx, "alice", mem.ID)
	require.NoError(t, err)
	_, err = h.idx.Metadata().Get(ctx, "alice", mem.ID)
	require.NoError(t, err)
	rows, err := h.idx.Vectors().Rows(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreateRejectsEmptyContent(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.CreateMemory(context.Background(), "alice", CreateRequest{Content: "   "})
	assert.ErrorIs(t, err, llm.ErrEmptyInput)
}

func TestSearchFindsRelevantMemory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	berlin, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "Moved to Berlin in March"})
	require.NoError(t, err)
	_, err = h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "Prefers oat milk in coffee"})
	require.NoError(t, err)

	results, err := h.orch.SearchMemories(ctx, "alice", SearchRequest{Query: "where did she move, Berlin?", MinScore: 0.01})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, berlin.ID, results[0].Memory.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.SearchMemories(context.Background(), "alice", SearchRequest{Query: ""})
	assert.ErrorIs(t, err, llm.ErrEmptyInput)
}

func TestUpdateWithoutContentKeepsEmbedding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mem, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "Moved to Berlin", Tags: "old"})
	require.NoError(t, err)
	before, err := h.idx.Vectors().Get(ctx, mem.ID)
	require.NoError(t, err)

	updated, err := h.orch.UpdateMemory(ctx, "alice", mem.ID, engine.UpdateRequest{Tags: "new", SetTags: true})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Tags)
	assert.Equal(t, mem.Embedding, updated.Embedding)

	after, err := h.idx.Vectors().Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Embedding, after.Embedding)

	row, err := h.idx.Metadata().Get(ctx, "alice", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", row.Tags)
}

func TestUpdateContentRegeneratesEmbedding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mem, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "Moved to Berlin"})
	require.NoError(t, err)

	updated, err := h.orch.UpdateMemory(ctx, "alice", mem.ID, engine.UpdateRequest{Content: "Moved to Lisbon", SetContent: true})
	require.NoError(t, err)
	assert.NotEqual(t, mem.Embedding, updated.Embedding)

	got, err := h.documents.Get(ctx, "alice", mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Moved to Lisbon", got.Content)
	assert.Equal(t, updated.Embedding, got.Embedding)
}

func TestUpdateEmptyRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mem, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "something"})
	require.NoError(t, err)

	_, err = h.orch.UpdateMemory(ctx, "alice", mem.ID, engine.UpdateRequest{})
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mem, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "ephemeral"})
	require.NoError(t, err)
	require.NoError(t, h.orch.DeleteMemory(ctx, "alice", mem.ID))

	_, err = h.documents.Get(ctx, "alice", mem.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = h.idx.Metadata().Get(ctx, "alice", mem.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	rows, err := h.idx.Vectors().Rows(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = h.orch.DeleteMemory(ctx, "alice", mem.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUsersCannotReachEachOthersMemories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mem, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "private fact"})
	require.NoError(t, err)

	_, err = h.orch.GetMemory(ctx, "bob", mem.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	err = h.orch.DeleteMemory(ctx, "bob", mem.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	results, err := h.orch.SearchMemories(ctx, "bob", SearchRequest{Query: "private fact"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestListMemories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "work note", Category: "Work"})
	require.NoError(t, err)
	_, err = h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "likes tea", Category: "Preferences"})
	require.NoError(t, err)

	rows, total, err := h.orch.ListMemories(ctx, "alice", engine.ListFilters{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 2, total)

	rows, total, err = h.orch.ListMemories(ctx, "alice", engine.ListFilters{Category: "Work"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, total)
}

func TestRelatedMemories(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	anchor, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "Moved to Berlin in March"})
	require.NoError(t, err)
	similar, err := h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "Berlin apartment has a balcony"})
	require.NoError(t, err)
	_, err = h.orch.CreateMemory(ctx, "alice", CreateRequest{Content: "Prefers oat milk"})
	require.NoError(t, err)

	results, err := h.orch.RelatedMemories(ctx, "alice", anchor.ID, 0, 0.01)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, similar.ID, results[0].Memory.ID)
	for _, r := range results {
		assert.NotEqual(t, anchor.ID, r.Memory.ID)
	}
}

func TestImportCategorizesWithFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.categorizer.FailWith(assert.AnError)

	report, err := h.orch.ImportMemories(ctx, "alice", []ImportItem{
		{Content: "first fact", Source: "import"},
		{Content: "second fact", Source: "import"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Skipped)
	require.Len(t, report.IDs, 2)

	for _, id := range report.IDs {
		row, err := h.idx.Metadata().Get(ctx, "alice", id)
		require.NoError(t, err)
		assert.Equal(t, FallbackCategory, row.Category)
	}
}

func TestImportSkipsFailedItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.categorizer.Answer(llm.Categorization{Category: "Personal Info", Confidence: 0.8})

	report, err := h.orch.ImportMemories(ctx, "alice", []ImportItem{
		{Content: "valid fact"},
		{Content: "   "},
		{Content: "another valid fact"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, report.IDs, 2)
}

func TestImportOutOfVocabularyAnswerFallsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.categorizer.Answer(llm.Categorization{Category: "Made Up Label", Confidence: 1})

	report, err := h.orch.ImportMemories(ctx, "alice", []ImportItem{{Content: "some fact"}})
	require.NoError(t, err)
	require.Len(t, report.IDs, 1)

	row, err := h.idx.Metadata().Get(ctx, "alice", report.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, FallbackCategory, row.Category)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultSearchLimit, clampLimit(0))
	assert.Equal(t, defaultSearchLimit, clampLimit(-5))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, maxSearchLimit, clampLimit(1000))
}
