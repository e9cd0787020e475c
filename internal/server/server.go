// Package server wires the memory engine together and exposes it over HTTP:
// pool and schema setup, durable backend selection, collaborator clients,
// the orchestrator and reconciler, health probes and the chi route table.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/lewisedginton/memory_vault/internal/config"
	"github.com/lewisedginton/memory_vault/internal/credentials"
	"github.com/lewisedginton/memory_vault/internal/durable"
	"github.com/lewisedginton/memory_vault/internal/index"
	"github.com/lewisedginton/memory_vault/internal/index/persistence"
	"github.com/lewisedginton/memory_vault/internal/llm"
	anthropicllm "github.com/lewisedginton/memory_vault/internal/llm/anthropic"
	"github.com/lewisedginton/memory_vault/internal/llm/llmtest"
	openaillm "github.com/lewisedginton/memory_vault/internal/llm/openai"
	"github.com/lewisedginton/memory_vault/internal/orchestrator"
	"github.com/lewisedginton/memory_vault/internal/reconciler"
	"github.com/lewisedginton/memory_vault/pkg/health"
	"github.com/lewisedginton/memory_vault/pkg/health/checkers"
	"github.com/lewisedginton/memory_vault/pkg/httpmiddleware"
	"github.com/lewisedginton/memory_vault/pkg/logger"
	"github.com/lewisedginton/memory_vault/pkg/metrics"
)

const mockEmbedderDimensions = 256

// Server encapsulates the engine components and HTTP lifecycle.
type Server struct {
	cfg        *appconfig.AppConfig
	log        logger.Logger
	pool       *pgxpool.Pool
	resolver   *credentials.Resolver
	engine     *orchestrator.Orchestrator
	reconciler *reconciler.Reconciler
	health     *health.Checker
	metrics    *metrics.Metrics
	httpServer *http.Server
}

// New creates a Server with all components initialized.
func New(ctx context.Context, cfg *appconfig.AppConfig, log logger.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewMetrics(log),
	}

	// Index stores: postgres when configured, in-memory for development.
	var metadataIndex index.MetadataIndex
	var vectorIndex index.VectorIndex
	var userStore credentials.Store
	if cfg.Database.URL != "" {
		pool, err := s.createPool(ctx)
		if err != nil {
			return nil, err
		}
		s.pool = pool

		if err := persistence.NewMigrationManager(pool, log).RunMigrations(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		metadataIndex = index.NewPostgresMetadata(pool, log)
		vectorIndex = index.NewPostgresVectors(pool, log)
		userStore = credentials.NewPostgresStore(pool)
	} else {
		log.Warn("No database configured, using in-memory indexes")
		mem := index.NewMemoryIndex()
		metadataIndex = mem.Metadata()
		vectorIndex = mem.Vectors()
		userStore = credentials.NewMemoryStore()
	}

	api, err := s.createDurableAPI()
	if err != nil {
		return nil, err
	}

	s.resolver, err = credentials.NewResolver(credentials.ResolverConfig{
		Store:         userStore,
		API:           api,
		Log:           log,
		ContainerName: credentials.DefaultContainerName,
		Private:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential resolver: %w", err)
	}

	documents, err := durable.NewDocumentStore(durable.DocumentStoreConfig{
		API:         api,
		Credentials: s.resolver,
		Logger:      log,
		CallTimeout: cfg.DurableStore.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}

	embedder, categorizer, err := s.createCollaborators()
	if err != nil {
		return nil, err
	}

	s.engine, err = orchestrator.New(orchestrator.Config{
		Documents:   documents,
		Metadata:    metadataIndex,
		Vectors:     vectorIndex,
		Embedder:    embedder,
		Categorizer: categorizer,
		Vocabulary:  cfg.Engine.CategoryVocabulary,
		Metrics:     s.metrics,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	s.reconciler, err = reconciler.New(reconciler.Config{
		Documents: documents,
		Metadata:  metadataIndex,
		Vectors:   vectorIndex,
		Embedder:  embedder,
		Metrics:   s.metrics,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	s.health = s.createHealthChecker()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.createRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       cfg.IdleTimeout,
	}

	log.Info("Server initialized",
		logger.IntField("port", cfg.Port),
		logger.StringField("durable_backend", cfg.DurableStore.Backend))
	return s, nil
}

func (s *Server) createPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(s.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(s.cfg.Database.MaxConnections)
	poolCfg.MaxConnLifetime = s.cfg.Database.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = s.cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

func (s *Server) createDurableAPI() (durable.API, error) {
	switch s.cfg.DurableStore.Backend {
	case appconfig.DurableBackendLocal:
		return durable.NewLocalGitAPI(durable.LocalGitConfig{
			BaseDir: s.cfg.DurableStore.LocalDir,
		})
	case appconfig.DurableBackendHosted:
		return durable.NewHostedAPI(durable.HostedAPIConfig{
			BaseURL: s.cfg.DurableStore.APIBaseURL,
			Timeout: s.cfg.DurableStore.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown durable backend %q", s.cfg.DurableStore.Backend)
	}
}

func (s *Server) createCollaborators() (llm.Embedder, llm.Categorizer, error) {
	var embedder llm.Embedder
	switch s.cfg.LLM.EmbedderProvider {
	case appconfig.ProviderMock:
		embedder = llmtest.NewEmbedder(mockEmbedderDimensions)
	default:
		client, err := openaillm.New(openaillm.Config{
			APIKey:         s.cfg.OpenAI.APIKey,
			EmbeddingModel: s.cfg.OpenAI.EmbeddingModel,
			ChatModel:      s.cfg.OpenAI.ChatModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		embedder = client
	}

	var categorizer llm.Categorizer
	switch s.cfg.LLM.CategorizerProvider {
	case appconfig.ProviderMock:
		categorizer = llmtest.NewCategorizer()
	case appconfig.ProviderClaude:
		client, err := anthropicllm.New(anthropicllm.Config{
			APIKey: s.cfg.Anthropic.APIKey,
			Model:  s.cfg.Anthropic.Model,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		categorizer = client
	default:
		client, err := openaillm.New(openaillm.Config{
			APIKey:         s.cfg.OpenAI.APIKey,
			EmbeddingModel: s.cfg.OpenAI.EmbeddingModel,
			ChatModel:      s.cfg.OpenAI.ChatModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		categorizer = client
	}

	return embedder, categorizer, nil
}

func (s *Server) createHealthChecker() *health.Checker {
	h := health.New(
		health.WithLogger(s.log),
		health.WithTimeout(s.cfg.Monitoring.HealthCheckTimeout),
	)
	h.AddLivenessCheck(health.NewCheckFunc("process", func(ctx context.Context) error {
		return nil
	}))
	if s.pool != nil {
		h.AddReadinessCheck(checkers.NewPostgresChecker(s.pool, "postgres"))
	}
	if s.cfg.DurableStore.Backend == appconfig.DurableBackendHosted {
		h.AddReadinessCheck(checkers.NewHTTPChecker(s.cfg.DurableStore.APIBaseURL, "durable-api"))
	}
	return h
}

func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	mwConfig := httpmiddleware.DefaultConfig()
	mwConfig.Logger = s.log
	mwConfig.EnableLogging = true
	mwConfig.Timeout = s.cfg.RequestTimeout
	if len(s.cfg.Security.CORSAllowedOrigins) > 0 {
		mwConfig.CORS.AllowedOrigins = s.cfg.Security.CORSAllowedOrigins
	}
	httpmiddleware.ApplyToRouter(r, mwConfig)

	r.Get("/healthz", s.health.LivenessHandler())
	r.Get("/readyz", s.health.ReadinessHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/memories", func(r chi.Router) {
			r.Use(s.requireUserID)
			r.Post("/", s.handleCreateMemory)
			r.Get("/", s.handleListMemories)
			r.Post("/search", s.handleSearchMemories)
			r.Post("/import", s.handleImportMemories)
			r.Route("/{memoryID}", func(r chi.Router) {
				r.Get("/", s.handleGetMemory)
				r.Patch("/", s.handleUpdateMemory)
				r.Delete("/", s.handleDeleteMemory)
				r.Get("/related", s.handleRelatedMemories)
			})
		})
		r.Route("/consistency", func(r chi.Router) {
			r.Use(s.requireUserID)
			r.Post("/check", s.handleConsistencyCheck)
			r.Post("/repair", s.handleConsistencyRepair)
		})
		r.Put("/users/{userID}/credential", s.handleSetCredential)
	})

	return r
}

// Listen starts the HTTP server (and the metrics listener when enabled) and
// returns a channel carrying any fatal serve error.
func (s *Server) Listen() chan error {
	errChan := make(chan error, 1)

	if s.cfg.Monitoring.MetricsEnabled {
		s.metrics.Listen(s.cfg.Monitoring.MetricsPort)
	}

	go func() {
		s.log.Info("Starting HTTP server", logger.StringField("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	return errChan
}

// GracefulShutdown drains in-flight requests and releases resources.
func (s *Server) GracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var shutdownErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("server shutdown error: %w", err)
	}
	if s.cfg.Monitoring.MetricsEnabled {
		s.metrics.Stop()
	}
	s.engine.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return shutdownErr
}

// Close forcefully shuts down the server.
func (s *Server) Close() error {
	if s.pool != nil {
		defer s.pool.Close()
	}
	return s.httpServer.Close()
}

// Engine exposes the storage orchestrator, used by the operator CLI.
func (s *Server) Engine() *orchestrator.Orchestrator {
	return s.engine
}

// Reconciler exposes the consistency reconciler, used by the operator CLI.
func (s *Server) Reconciler() *reconciler.Reconciler {
	return s.reconciler
}

// Resolver exposes the credential resolver, used by the operator CLI.
func (s *Server) Resolver() *credentials.Resolver {
	return s.resolver
}
