package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
	"github.com/kirillkom/grounded-rag/internal/core/tenant"
)

const tracerName = "github.com/kirillkom/grounded-rag/internal/core/usecase"

type OrchestratorDeps struct {
	Classifier *IntentClassifier
	Embedder   ports.Embedder
	Vector     ports.VectorSearcher
	Keyword    ports.KeywordSearcher
	Reranker   *RerankStage
	Packer     *ContextPacker
	Guardrail  *Guardrail
	Timeouts   *TimeoutCoordinator
	Search     *tenant.Store[domain.SearchConfig]
	Observer   ports.PipelineObserver
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// RetrievalOrchestrator runs classify, search, fuse, rerank, pack and guardrail
// for one request. It is the only component calling search and embedding
// backends for the query.
type RetrievalOrchestrator struct {
	classifier *IntentClassifier
	embedder   ports.Embedder
	vector     ports.VectorSearcher
	keyword    ports.KeywordSearcher
	reranker   *RerankStage
	packer     *ContextPacker
	guardrail  *Guardrail
	timeouts   *TimeoutCoordinator
	search     *tenant.Store[domain.SearchConfig]
	observer   ports.PipelineObserver
	tracer     trace.Tracer
	logger     *slog.Logger
}

func NewRetrievalOrchestrator(deps OrchestratorDeps) *RetrievalOrchestrator {
	o := &RetrievalOrchestrator{
		classifier: deps.Classifier,
		embedder:   deps.Embedder,
		vector:     deps.Vector,
		keyword:    deps.Keyword,
		reranker:   deps.Reranker,
		packer:     deps.Packer,
		guardrail:  deps.Guardrail,
		timeouts:   deps.Timeouts,
		search:     deps.Search,
		observer:   deps.Observer,
		tracer:     deps.Tracer,
		logger:     deps.Logger,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.classifier == nil {
		o.classifier = NewIntentClassifier()
	}
	if o.timeouts == nil {
		o.timeouts = NewTimeoutCoordinator(nil)
	}
	if o.search == nil {
		o.search = tenant.NewStore(domain.DefaultSearchConfig())
	}
	if o.reranker == nil {
		o.reranker = NewRerankStage(nil, o.logger)
	}
	if o.packer == nil {
		o.packer = NewContextPacker(nil, nil, o.logger)
	}
	if o.guardrail == nil {
		o.guardrail = NewGuardrail(nil, o.logger)
	}
	if o.observer == nil {
		o.observer = ports.NopObserver{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

func (o *RetrievalOrchestrator) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalOutcome, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}

	started := time.Now()
	timeouts := o.timeouts.For(req.TenantID)
	search := o.search.Resolve(req.TenantID).Normalize()

	ctx, cancel := context.WithTimeout(ctx, timeouts.Overall)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(attribute.String("tenant.id", req.TenantID)))
	defer span.End()

	var metrics domain.RetrievalMetrics
	intent := o.classifier.Classify(req.Query)

	embedCtx, finish := o.startStage(ctx, domain.StageEmbedding)
	queryVector, err := ExecuteWithTimeout(embedCtx, timeouts.Embedding, domain.StageEmbedding, func(ctx context.Context) ([]float32, error) {
		return o.embedder.EmbedQuery(ctx, req.Query)
	})
	metrics.Observe(domain.StageEmbedding, finish(err))
	if err != nil {
		return nil, o.fail(span, domain.NewStageError(domain.StageRetrieval, domain.NewStageError(domain.StageEmbedding, err)))
	}

	hits, err := o.searchBoth(ctx, req, intent, search, timeouts, queryVector, &metrics)
	if err != nil {
		return nil, o.fail(span, domain.NewStageError(domain.StageRetrieval, domain.NewStageError(domain.StageVectorSearch, err)))
	}
	if hits.keywordErr != nil {
		if !timeouts.FallbackEnabled || ctx.Err() != nil {
			return nil, o.fail(span, domain.NewStageError(domain.StageRetrieval, domain.NewStageError(domain.StageKeywordSearch, hits.keywordErr)))
		}
		metrics.KeywordDegraded = true
		o.logger.WarnContext(ctx, "keyword_search_degraded",
			slog.String("tenant_id", req.TenantID),
			slog.String("error", hits.keywordErr.Error()),
		)
	}
	vectorHits, keywordHits := hits.vector, hits.keyword

	if confidence, ok := VectorConfidence(vectorHits); ok {
		intent = o.classifier.ClassifyWithScore(req.Query, &confidence)
	}
	metrics.Intent = intent.Intent
	metrics.FusionStrategy = intent.FusionStrategy
	metrics.VectorCount = len(vectorHits)
	metrics.KeywordCount = len(keywordHits)

	_, finish = o.startStage(ctx, domain.StageFusion)
	fused := Fuse(vectorHits, keywordHits, intent, search.RRFK)
	metrics.Observe(domain.StageFusion, finish(nil))
	metrics.FusedCount = len(fused)

	rerankCtx, finish := o.startStage(ctx, domain.StageReranker)
	reranked, applied, rerankErr := o.reranker.Apply(rerankCtx, req.Query, fused, RerankOptions{
		Enabled:   search.RerankEnabled,
		TopK:      search.RerankTopK,
		BatchSize: search.RerankBatchSize,
		Timeout:   timeouts.Reranker,
	})
	metrics.Observe(domain.StageReranker, finish(rerankErr))
	if rerankErr != nil && (!timeouts.FallbackEnabled || ctx.Err() != nil) {
		return nil, o.fail(span, domain.NewStageError(domain.StageRetrieval, domain.NewStageError(domain.StageReranker, rerankErr)))
	}
	metrics.RerankingEnabled = applied

	packCtx, finish := o.startStage(ctx, domain.StagePacking)
	packed := o.packer.Pack(packCtx, reranked, PackOptionsFrom(req.Query, search, timeouts))
	metrics.Observe(domain.StagePacking, finish(nil))
	metrics.PackedCount = len(packed.Results)
	metrics.PackedTokens = packed.Tokens
	metrics.NoveltyMode = packed.NoveltyMode

	if err := ctx.Err(); err != nil {
		return nil, o.fail(span, domain.NewStageError(domain.StageRetrieval, parentContextError(domain.StageRetrieval, err)))
	}

	guardCtx, finish := o.startStage(ctx, domain.StageGuardrail)
	decision := o.guardrail.Evaluate(guardCtx, req.Query, req.TenantID, packed.Results, applied)
	metrics.Observe(domain.StageGuardrail, finish(nil))
	metrics.Total = time.Since(started)

	span.SetAttributes(
		attribute.String("retrieval.intent", string(intent.Intent)),
		attribute.Bool("retrieval.answerable", decision.IsAnswerable),
		attribute.Int("retrieval.packed_count", metrics.PackedCount),
	)
	o.observer.ObserveRetrieval(req.TenantID, metrics)
	o.observer.ObserveDecision(req.TenantID, decision)
	o.logger.InfoContext(ctx, "retrieval_completed",
		slog.String("tenant_id", req.TenantID),
		slog.String("intent", string(intent.Intent)),
		slog.String("fusion_strategy", string(intent.FusionStrategy)),
		slog.Int("vector_count", metrics.VectorCount),
		slog.Int("keyword_count", metrics.KeywordCount),
		slog.Int("packed_count", metrics.PackedCount),
		slog.Bool("reranking_enabled", metrics.RerankingEnabled),
		slog.Bool("keyword_degraded", metrics.KeywordDegraded),
		slog.Bool("answerable", decision.IsAnswerable),
		slog.Int64("duration_ms", metrics.Total.Milliseconds()),
	)

	return &domain.RetrievalOutcome{
		Results:  packed.Results,
		Decision: decision,
		Intent:   intent,
		Metrics:  metrics,
	}, nil
}

type searchHits struct {
	vector     []domain.SearchResult
	keyword    []domain.SearchResult
	keywordErr error
}

// searchBoth runs vector and keyword search concurrently. A vector failure is
// returned as err and cancels the keyword call; a keyword failure is kept in
// searchHits so the caller can degrade.
func (o *RetrievalOrchestrator) searchBoth(
	ctx context.Context,
	req domain.RetrievalRequest,
	intent domain.IntentConfig,
	search domain.SearchConfig,
	timeouts domain.TimeoutConfig,
	queryVector []float32,
	metrics *domain.RetrievalMetrics,
) (searchHits, error) {
	var (
		hits                    searchHits
		vectorTook, keywordTook time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stageCtx, finish := o.startStage(gctx, domain.StageVectorSearch)
		found, err := ExecuteWithTimeout(stageCtx, timeouts.VectorSearch, domain.StageVectorSearch, func(ctx context.Context) ([]domain.SearchResult, error) {
			return o.vector.Search(ctx, domain.SearchQuery{
				Collection:  search.VectorCollection,
				QueryVector: queryVector,
				QueryText:   req.Query,
				Limit:       intent.RetrievalK,
				Filter:      req.Filter,
			})
		})
		vectorTook = finish(err)
		if err != nil {
			return err
		}
		hits.vector = found
		return nil
	})

	if o.keyword != nil {
		text := req.Query
		if intent.ExpandedQuery != "" {
			text = intent.ExpandedQuery
		}
		g.Go(func() error {
			stageCtx, finish := o.startStage(gctx, domain.StageKeywordSearch)
			found, err := ExecuteWithTimeout(stageCtx, timeouts.KeywordSearch, domain.StageKeywordSearch, func(ctx context.Context) ([]domain.SearchResult, error) {
				return o.keyword.Search(ctx, domain.SearchQuery{
					Collection: search.KeywordCollection,
					QueryText:  text,
					Limit:      intent.RetrievalK,
					Filter:     req.Filter,
				})
			})
			keywordTook = finish(err)
			if err != nil {
				hits.keywordErr = err
				return nil
			}
			hits.keyword = found
			return nil
		})
	}

	err := g.Wait()
	metrics.Observe(domain.StageVectorSearch, vectorTook)
	if o.keyword != nil {
		metrics.Observe(domain.StageKeywordSearch, keywordTook)
	}
	return hits, err
}

// startStage opens a span for stage. The returned func ends it, reports the
// outcome to the observer and returns the elapsed time.
func (o *RetrievalOrchestrator) startStage(ctx context.Context, stage string) (context.Context, func(error) time.Duration) {
	ctx, span := o.tracer.Start(ctx, "retrieval."+stage)
	started := time.Now()
	return ctx, func(err error) time.Duration {
		took := time.Since(started)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if errors.Is(err, domain.ErrStageTimeout) {
				outcome = "timeout"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		o.observer.ObserveStage(stage, outcome, took)
		span.End()
		return took
	}
}

func (o *RetrievalOrchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, domain.ErrorCode(err))
	return err
}
