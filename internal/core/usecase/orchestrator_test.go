package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/tenant"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results []domain.SearchResult
	err     error
	delay   time.Duration
	queries []domain.SearchQuery
}

func (f *fakeSearcher) Search(ctx context.Context, query domain.SearchQuery) ([]domain.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) lastQuery() domain.SearchQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func hit(id, content string, score float64, origin domain.SearchOrigin) domain.SearchResult {
	return domain.SearchResult{ID: id, Content: content, RawScore: score, Origin: origin, Payload: map[string]any{"title": "Title " + id}}
}

func revenueCorpus() (*fakeSearcher, *fakeSearcher) {
	vector := &fakeSearcher{results: []domain.SearchResult{
		hit("a", "quarterly revenue grew across europe", 0.66, domain.OriginVector),
		hit("b", "hiring plans for the platform team", 0.61, domain.OriginVector),
		hit("c", "office relocation planning draft", 0.58, domain.OriginVector),
	}}
	keyword := &fakeSearcher{results: []domain.SearchResult{
		hit("a", "quarterly revenue grew across europe", 12.1, domain.OriginKeyword),
		hit("c", "office relocation planning draft", 7.4, domain.OriginKeyword),
	}}
	return vector, keyword
}

type orchestratorFixture struct {
	vector   *fakeSearcher
	keyword  *fakeSearcher
	reranker *fakeReranker
	timeouts *tenant.Store[domain.TimeoutConfig]
	search   *tenant.Store[domain.SearchConfig]
}

func newOrchestratorFixture() *orchestratorFixture {
	vector, keyword := revenueCorpus()
	return &orchestratorFixture{
		vector:   vector,
		keyword:  keyword,
		reranker: &fakeReranker{scores: map[string]float64{"a": 0.9, "b": 0.3, "c": 0.95}},
		timeouts: tenant.NewStore(domain.DefaultTimeoutConfig()),
		search:   tenant.NewStore(domain.DefaultSearchConfig()),
	}
}

func (f *orchestratorFixture) build() *RetrievalOrchestrator {
	return NewRetrievalOrchestrator(OrchestratorDeps{
		Embedder: &fakeEmbedder{},
		Vector:   f.vector,
		Keyword:  f.keyword,
		Reranker: NewRerankStage(f.reranker, nil),
		Timeouts: NewTimeoutCoordinator(f.timeouts),
		Search:   f.search,
	})
}

func TestRetrieveFusesRerankedAndPacksResults(t *testing.T) {
	f := newOrchestratorFixture()
	out, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.NoError(t, err)

	require.Equal(t, domain.IntentExploratory, out.Intent.Intent)
	require.True(t, out.Metrics.RerankingEnabled)
	require.False(t, out.Metrics.KeywordDegraded)
	require.Equal(t, 3, out.Metrics.VectorCount)
	require.Equal(t, 2, out.Metrics.KeywordCount)
	require.Equal(t, 3, out.Metrics.FusedCount)
	require.Equal(t, []string{"c", "a", "b"}, ids(out.Results))
	require.NotNil(t, out.Results[0].RerankerScore)
	require.Equal(t, domain.SearchTypeHybrid, out.Results[0].SearchType)
	require.Equal(t, 1, out.Results[0].Rank)
	require.Contains(t, out.Metrics.StageDurations, domain.StageVectorSearch)
	require.Contains(t, out.Metrics.StageDurations, domain.StageGuardrail)
	require.NotEmpty(t, out.Decision.AuditTrail.ID)
}

func TestRetrieveIgnoresUnboundedVectorScoresForShortcut(t *testing.T) {
	f := newOrchestratorFixture()
	f.vector.results = []domain.SearchResult{
		hit("a", "quarterly revenue grew across europe", 18.4, domain.OriginVector),
		hit("b", "hiring plans for the platform team", 11.0, domain.OriginVector),
	}

	out, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Who owns the billing service", TenantID: "acme"})
	require.NoError(t, err)
	require.Equal(t, domain.IntentEntityLookup, out.Intent.Intent)
	require.Equal(t, domain.FusionWeightedRRF, out.Metrics.FusionStrategy)
}

func TestRetrieveTakesShortcutOnConfidentCosineScore(t *testing.T) {
	f := newOrchestratorFixture()
	f.vector.results = []domain.SearchResult{
		hit("a", "quarterly revenue grew across europe", 0.91, domain.OriginVector),
		hit("b", "hiring plans for the platform team", 0.52, domain.OriginVector),
	}

	out, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Who owns the billing service", TenantID: "acme"})
	require.NoError(t, err)
	require.Equal(t, domain.FusionMaxConfidence, out.Metrics.FusionStrategy)
}

func TestRetrievePacksResultsWhenRerankerReturnsLogits(t *testing.T) {
	f := newOrchestratorFixture()
	f.reranker.scores = map[string]float64{"a": -0.2, "b": -3.1, "c": -1.4}

	out, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.NoError(t, err)

	require.True(t, out.Metrics.RerankingEnabled)
	require.NotEmpty(t, out.Results)
	require.Equal(t, "a", out.Results[0].ID)
	for _, item := range out.Results {
		require.NotNil(t, item.RerankerScore)
		require.Greater(t, *item.RerankerScore, 0.0)
		require.Less(t, *item.RerankerScore, 1.0)
	}
	if out.Decision.IDKResponse != nil {
		require.NotEqual(t, domain.ReasonNoRelevantDocs, out.Decision.IDKResponse.ReasonCode)
	}
}

func TestRetrieveKeepsFusionOrderWhenRerankerTimesOut(t *testing.T) {
	f := newOrchestratorFixture()
	f.reranker.delay = time.Second
	cfg := domain.DefaultTimeoutConfig()
	cfg.Reranker = 20 * time.Millisecond
	f.timeouts.Replace("acme", cfg)

	out, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.NoError(t, err)

	require.False(t, out.Metrics.RerankingEnabled)
	require.Equal(t, []string{"a", "c", "b"}, ids(out.Results))
	for i, item := range out.Results {
		require.Nil(t, item.RerankerScore)
		if i > 0 {
			require.GreaterOrEqual(t, out.Results[i-1].FusionScore, item.FusionScore)
		}
	}
}

func TestRetrieveFailsOnRerankerTimeoutWithoutFallback(t *testing.T) {
	f := newOrchestratorFixture()
	f.reranker.delay = time.Second
	cfg := domain.DefaultTimeoutConfig()
	cfg.Reranker = 20 * time.Millisecond
	cfg.FallbackEnabled = false
	f.timeouts.Replace("acme", cfg)

	_, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.ErrorIs(t, err, domain.ErrStageTimeout)
	require.Equal(t, domain.CodeStageTimeout, domain.ErrorCode(err))
}

func TestRetrieveDegradesToVectorOnlyWhenKeywordFails(t *testing.T) {
	f := newOrchestratorFixture()
	f.keyword.err = errors.New("index unavailable")

	out, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.NoError(t, err)
	require.True(t, out.Metrics.KeywordDegraded)
	require.Zero(t, out.Metrics.KeywordCount)
	for _, item := range out.Results {
		require.Equal(t, domain.SearchTypeVectorOnly, item.SearchType)
	}
}

func TestRetrieveKeywordFailureIsFatalWithoutFallback(t *testing.T) {
	f := newOrchestratorFixture()
	f.keyword.err = errors.New("index unavailable")
	cfg := domain.DefaultTimeoutConfig()
	cfg.FallbackEnabled = false
	f.timeouts.Replace("acme", cfg)

	_, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestRetrieveVectorFailureIsFatal(t *testing.T) {
	f := newOrchestratorFixture()
	f.vector.err = errors.New("qdrant down")

	_, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Equal(t, domain.CodeUpstreamUnavailable, domain.ErrorCode(err))
	require.Equal(t, domain.StageRetrieval, domain.FailedStage(err))
}

func TestRetrieveEmbeddingFailureIsFatal(t *testing.T) {
	f := newOrchestratorFixture()
	orchestrator := NewRetrievalOrchestrator(OrchestratorDeps{
		Embedder: &fakeEmbedder{err: errors.New("embedder down")},
		Vector:   f.vector,
		Keyword:  f.keyword,
	})

	_, err := orchestrator.Retrieve(context.Background(), domain.RetrievalRequest{Query: "revenue", TenantID: "acme"})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Empty(t, f.vector.queries)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	f := newOrchestratorFixture()
	_, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "   ", TenantID: "acme"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRetrieveOverallDeadlineIsRequestTimeout(t *testing.T) {
	f := newOrchestratorFixture()
	f.vector.delay = time.Second
	cfg := domain.DefaultTimeoutConfig()
	cfg.Overall = 30 * time.Millisecond
	f.timeouts.Replace("acme", cfg)

	_, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "Tell me about revenue trends", TenantID: "acme"})
	require.ErrorIs(t, err, domain.ErrRequestTimeout)
	require.Equal(t, domain.CodeRequestTimeout, domain.ErrorCode(err))
}

func TestRetrieveForwardsFilterAndExpandedKeywordQuery(t *testing.T) {
	f := newOrchestratorFixture()
	filter, err := domain.NewFilter([]domain.FilterClause{{Key: "department", Values: []string{"finance"}}}, nil)
	require.NoError(t, err)
	search := domain.DefaultSearchConfig()
	search.VectorCollection = "acme_dense"
	search.KeywordCollection = "acme_sparse"
	f.search.Replace("acme", search)

	out, err := f.build().Retrieve(context.Background(), domain.RetrievalRequest{Query: "How long is a day in hours?", TenantID: "acme", Filter: filter})
	require.NoError(t, err)
	require.Equal(t, domain.IntentDefinitionMeasurementProcedure, out.Intent.Intent)
	require.Equal(t, 0.7, out.Intent.KeywordWeight)

	vq := f.vector.lastQuery()
	require.Equal(t, "acme_dense", vq.Collection)
	require.Equal(t, filter, vq.Filter)
	require.Equal(t, 10, vq.Limit)

	kq := f.keyword.lastQuery()
	require.Equal(t, "acme_sparse", kq.Collection)
	require.Equal(t, "long day hours", kq.QueryText)
	require.Equal(t, filter, kq.Filter)
}
