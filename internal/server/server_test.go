package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/lewisedginton/memory_vault/internal/config"
	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/internal/orchestrator"
	"github.com/lewisedginton/memory_vault/internal/reconciler"
	"github.com/lewisedginton/memory_vault/pkg/logger"
)

// testConfig is a development-mode configuration: local git backend on a
// temporary directory, mock model providers, no database, no metrics listener.
func testConfig(t *testing.T) *appconfig.AppConfig {
	t.Helper()
	return &appconfig.AppConfig{
		ServiceName:    "memory-vault",
		Environment:    "development",
		Port:           8080,
		RequestTimeout: 10 * time.Second,
		IdleTimeout:    time.Minute,
		DurableStore: appconfig.DurableStoreConfig{
			Backend:  appconfig.DurableBackendLocal,
			LocalDir: t.TempDir(),
			Timeout:  10 * time.Second,
		},
		LLM: appconfig.LLMConfig{
			EmbedderProvider:    appconfig.ProviderMock,
			CategorizerProvider: appconfig.ProviderMock,
		},
		Engine: appconfig.EngineConfig{
			SearchLimit:      10,
			ReconcileTimeout: time.Minute,
		},
		Logging: appconfig.LoggingConfig{Level: "error", Format: "json"},
		Monitoring: appconfig.MonitoringConfig{
			HealthCheckTimeout: 5 * time.Second,
			MetricsEnabled:     false,
		},
		Security: appconfig.SecurityConfig{MaxRequestSize: 1 << 20},
	}
}

type testServer struct {
	srv    *Server
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewLogger(logger.Config{Service: "test", Level: logger.ErrorLevel})

	srv, err := New(context.Background(), testConfig(t), log)
	require.NoError(t, err)
	t.Cleanup(func() { srv.engine.Close() })

	return &testServer{srv: srv, router: srv.createRouter()}
}

func (ts *testServer) request(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) setCredential(t *testing.T, user string) {
	t.Helper()
	rec := ts.request(t, http.MethodPut, "/api/v1/users/"+user+"/credential", "", setCredentialRequest{Token: "local-token"})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func (ts *testServer) createMemory(t *testing.T, user, content string) engine.Memory {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/api/v1/memories/", user, createMemoryRequest{Content: content, Source: "api"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var mem engine.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mem))
	return mem
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingUserIDHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/memories/", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWithoutCredential(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/memories/", "alice", createMemoryRequest{Content: "no token yet"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMemoryLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")

	mem := ts.createMemory(t, "alice", "Moved to Berlin in March")
	assert.Regexp(t, `^mem-`, mem.ID)

	rec := ts.request(t, http.MethodGet, "/api/v1/memories/"+mem.ID+"/", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got engine.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Moved to Berlin in March", got.Content)

	rec = ts.request(t, http.MethodPatch, "/api/v1/memories/"+mem.ID+"/", "alice", map[string]string{"tags": "location"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "location", got.Tags)

	rec = ts.request(t, http.MethodDelete, "/api/v1/memories/"+mem.ID+"/", "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/memories/"+mem.ID+"/", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateWithNoFields(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")
	mem := ts.createMemory(t, "alice", "some fact")

	rec := ts.request(t, http.MethodPatch, "/api/v1/memories/"+mem.ID+"/", "alice", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateEmptyContent(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")

	rec := ts.request(t, http.MethodPost, "/api/v1/memories/", "alice", createMemoryRequest{Content: "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListMemoriesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")
	ts.createMemory(t, "alice", "first fact")
	ts.createMemory(t, "alice", "second fact")

	rec := ts.request(t, http.MethodGet, "/api/v1/memories/", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Memories, 2)
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")
	berlin := ts.createMemory(t, "alice", "Moved to Berlin in March")
	ts.createMemory(t, "alice", "Prefers oat milk in coffee")

	rec := ts.request(t, http.MethodPost, "/api/v1/memories/search", "alice", searchRequest{Query: "Berlin move", MinScore: 0.01})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, berlin.ID, resp.Results[0].Memory.ID)
	assert.Greater(t, resp.Results[0].Score, 0.0)
}

func TestSearchEmptyQuery(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")

	rec := ts.request(t, http.MethodPost, "/api/v1/memories/search", "alice", searchRequest{Query: ""})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRelatedEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")
	anchor := ts.createMemory(t, "alice", "Moved to Berlin in March")
	ts.createMemory(t, "alice", "Berlin apartment has a balcony")

	rec := ts.request(t, http.MethodGet, "/api/v1/memories/"+anchor.ID+"/related?min_score=0.01", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	for _, r := range resp.Results {
		assert.NotEqual(t, anchor.ID, r.Memory.ID)
	}
}

func TestImportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")

	rec := ts.request(t, http.MethodPost, "/api/v1/memories/import", "alice", importRequest{Items: []importItem{
		{Content: "first imported fact", Source: "import"},
		{Content: "   ", Source: "import"},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var report orchestrator.ImportReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Skipped)

	rec = ts.request(t, http.MethodPost, "/api/v1/memories/import", "alice", importRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsersAreIsolatedOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")
	ts.setCredential(t, "bob")
	mem := ts.createMemory(t, "alice", "private fact")

	rec := ts.request(t, http.MethodGet, "/api/v1/memories/"+mem.ID+"/", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(t, http.MethodDelete, "/api/v1/memories/"+mem.ID+"/", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsistencyEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")
	ts.createMemory(t, "alice", "a durable fact")

	rec := ts.request(t, http.MethodPost, "/api/v1/consistency/check", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report reconciler.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Consistent())
	assert.Equal(t, 1, report.TotalMemories)

	rec = ts.request(t, http.MethodPost, "/api/v1/consistency/repair", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Repairs())
}

func TestSetCredentialValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPut, "/api/v1/users/alice/credential", "", setCredentialRequest{Token: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	ts := newTestServer(t)
	ts.setCredential(t, "alice")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memories/", bytes.NewReader([]byte("{not json")))
	req.Header.Set(userIDHeader, "alice")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateMemoryPersistsAcrossServerRestart(t *testing.T) {
	cfg := testConfig(t)
	log := logger.NewLogger(logger.Config{Service: "test", Level: logger.ErrorLevel})

	srv, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	ts := &testServer{srv: srv, router: srv.createRouter()}
	ts.setCredential(t, "alice")
	mem := ts.createMemory(t, "alice", "survives restarts")
	srv.engine.Close()

	// Same durable directory, fresh process state. The in-memory indexes are
	// empty until a repair pass re-derives them from the durable store.
	srv2, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer srv2.engine.Close()
	ts2 := &testServer{srv: srv2, router: srv2.createRouter()}
	ts2.setCredential(t, "alice")

	// A mutation re-binds the user to the existing container; the old record
	// is then durable but unindexed until the repair pass.
	ts2.createMemory(t, "alice", "a fresh fact")

	rec := ts2.request(t, http.MethodPost, "/api/v1/consistency/repair", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report reconciler.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.TotalMemories)
	assert.Equal(t, 1, report.MetadataRowsRestored)

	rec = ts2.request(t, http.MethodGet, fmt.Sprintf("/api/v1/memories/%s/", mem.ID), "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
