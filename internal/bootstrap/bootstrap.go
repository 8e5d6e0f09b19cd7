package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/grounded-rag/internal/config"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/usecase"
	natsaudit "github.com/kirillkom/grounded-rag/internal/infrastructure/audit/nats"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/embedcache"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/keyword/bleveindex"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/rerank/crossencoder"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/tokenizer/tiktoken"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/grounded-rag/internal/observability/metrics"
	"github.com/kirillkom/grounded-rag/internal/observability/tracing"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Registry    *prometheus.Registry
	HTTPMetrics *metrics.HTTPServerMetrics

	Answers   *usecase.AnswerUseCase
	Admin     *usecase.TenantAdminUseCase
	Readiness map[string]func(context.Context) error

	closers []func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Readiness: map[string]func(context.Context) error{},
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRatio:    cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	app.onClose(shutdownTracing)

	app.Registry = metrics.NewRegistry()
	app.HTTPMetrics = metrics.NewHTTPServerMetrics(cfg.ServiceName, app.Registry)
	pipelineMetrics := metrics.NewPipelineMetrics(app.Registry)

	executor := resilience.NewExecutor(resilienceConfig(cfg), logger)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{Executor: executor})
	app.Readiness["ollama"] = ollamaClient.Ping
	embedder, err := embedcache.New(ollama.NewEmbedder(ollamaClient), cfg.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}

	qdrantClient := qdrant.New(cfg.QdrantURL, qdrant.Options{APIKey: cfg.QdrantAPIKey, Executor: executor})
	app.Readiness["qdrant"] = qdrantClient.Ping

	keyword, err := app.keywordSearcher(cfg, qdrantClient)
	if err != nil {
		return nil, err
	}

	generator, err := answerGenerator(cfg, ollamaClient, executor)
	if err != nil {
		return nil, err
	}

	var reranker ports.Reranker
	if cfg.RerankerURL != "" {
		reranker = crossencoder.New(cfg.RerankerURL, cfg.RerankerModel, crossencoder.Options{Executor: executor, Logger: logger})
	} else {
		logger.Warn("reranker_disabled", slog.String("reason", "RERANKER_URL is empty"))
	}

	var tokenizer ports.Tokenizer
	if bpe, tokErr := tiktoken.New(cfg.TokenizerEncoding); tokErr != nil {
		logger.Warn("tokenizer_fallback_to_words",
			slog.String("encoding", cfg.TokenizerEncoding),
			slog.String("error", tokErr.Error()),
		)
		tokenizer = tiktoken.WordTokenizer{}
	} else {
		tokenizer = bpe
	}

	var audit ports.AuditSink
	if cfg.NATSURL != "" {
		publisher, natsErr := natsaudit.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, natsaudit.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if natsErr != nil {
			return nil, fmt.Errorf("init audit publisher: %w", natsErr)
		}
		app.onClose(func(context.Context) error {
			publisher.Close()
			return nil
		})
		app.Readiness["nats"] = publisher.Ping
		audit = publisher
	}

	var repo ports.TenantConfigRepository
	if cfg.PostgresDSN != "" {
		db, dbErr := openTenantDB(ctx, cfg.PostgresDSN)
		if dbErr != nil {
			return nil, dbErr
		}
		app.onClose(func(context.Context) error { return db.Close() })
		app.Readiness["postgres"] = db.PingContext
		repo = postgres.NewTenantConfigRepository(db)
	}

	stores := usecase.NewTenantStores(cfg.Guardrail, cfg.Timeouts, cfg.Search)
	app.Admin = usecase.NewTenantAdminUseCase(repo, stores, logger)
	if err := app.hydrateTenants(ctx, cfg); err != nil {
		return nil, err
	}

	timeouts := usecase.NewTimeoutCoordinator(stores.Timeouts)
	orchestrator := usecase.NewRetrievalOrchestrator(usecase.OrchestratorDeps{
		Classifier: usecase.NewIntentClassifier(),
		Embedder:   embedder,
		Vector:     qdrant.NewVectorSearcher(qdrantClient, cfg.QdrantDenseName),
		Keyword:    keyword,
		Reranker:   usecase.NewRerankStage(reranker, logger),
		Packer:     usecase.NewContextPacker(tokenizer, embedder, logger),
		Guardrail:  usecase.NewGuardrail(stores.Guardrail, logger),
		Timeouts:   timeouts,
		Search:     stores.Search,
		Observer:   pipelineMetrics,
		Logger:     logger,
	})
	app.Answers = usecase.NewAnswerUseCase(orchestrator, generator, timeouts, audit, pipelineMetrics, logger)

	logger.Info("bootstrap_completed",
		slog.String("generator", cfg.GeneratorBackend),
		slog.String("keyword_backend", cfg.KeywordBackend),
		slog.Bool("reranker", reranker != nil),
		slog.Bool("audit", audit != nil),
		slog.Bool("postgres", repo != nil),
	)
	return app, nil
}

func (a *App) keywordSearcher(cfg config.Config, client *qdrant.Client) (ports.KeywordSearcher, error) {
	switch cfg.KeywordBackend {
	case config.KeywordBleve:
		index, err := bleveindex.OpenReadOnly(cfg.BleveIndexPath)
		if err != nil {
			return nil, fmt.Errorf("open keyword index: %w", err)
		}
		a.onClose(func(context.Context) error { return index.Close() })
		return index, nil
	case config.KeywordQdrantSparse:
		return qdrant.NewSparseSearcher(client, cfg.QdrantSparseName), nil
	default:
		return nil, fmt.Errorf("unknown KEYWORD_BACKEND %q", cfg.KeywordBackend)
	}
}

func answerGenerator(cfg config.Config, client *ollama.Client, executor *resilience.Executor) (ports.AnswerGenerator, error) {
	switch cfg.GeneratorBackend {
	case config.GeneratorOllama:
		return ollama.NewGenerator(client), nil
	case config.GeneratorOpenAI:
		gen, err := openaicompat.NewGenerator(openaicompat.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			MaxTokens:   cfg.OpenAIMaxTokens,
			Temperature: cfg.OpenAITemperature,
		}, executor)
		if err != nil {
			return nil, fmt.Errorf("init openai generator: %w", err)
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown GENERATOR_BACKEND %q", cfg.GeneratorBackend)
	}
}

// hydrateTenants seeds the stores from the YAML file, then lets rows stored by
// the admin API override them.
func (a *App) hydrateTenants(ctx context.Context, cfg config.Config) error {
	if cfg.TenantConfigFile != "" {
		tenants, err := config.LoadTenantFile(cfg.TenantConfigFile)
		if err != nil {
			return fmt.Errorf("load tenant file: %w", err)
		}
		seeded := a.Admin.Seed(ctx, tenants)
		a.Logger.Info("tenant_file_loaded", slog.String("path", cfg.TenantConfigFile), slog.Int("tenants", seeded))
	}
	loaded, err := a.Admin.Load(ctx)
	if err != nil {
		return fmt.Errorf("load tenant configs: %w", err)
	}
	if loaded > 0 {
		a.Logger.Info("tenant_configs_loaded", slog.Int("tenants", loaded))
	}
	return nil
}

func openTenantDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := postgres.OpenDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.Retry.MaxAttempts = cfg.RetryMaxAttempts
	out.Retry.InitialBackoff = cfg.RetryInitialBackoff
	out.Retry.MaxBackoff = cfg.RetryMaxBackoff
	out.Breaker.Enabled = cfg.BreakerEnabled
	out.Breaker.OpenTimeout = cfg.BreakerOpenTimeout
	out.Rate = resilience.RatePolicy{PerSecond: cfg.UpstreamRateLimit, Burst: cfg.UpstreamRateBurst}
	return out
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
