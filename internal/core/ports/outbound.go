package ports

import (
	"context"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// VectorSearcher performs dense similarity search over a collection.
type VectorSearcher interface {
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.SearchResult, error)
}

// KeywordSearcher performs lexical search over a collection.
type KeywordSearcher interface {
	Search(ctx context.Context, query domain.SearchQuery) ([]domain.SearchResult, error)
}

// Embedder builds vectors for query text and candidate content.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Reranker scores documents against a query with a cross-encoder.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []domain.RerankDocument, topK int) ([]domain.RerankScore, error)
}

// Tokenizer counts and truncates text on exact token boundaries.
type Tokenizer interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// AnswerGenerator streams answer text grounded on packed context. The returned
// channel is closed when generation ends or ctx is cancelled.
type AnswerGenerator interface {
	GenerateStream(ctx context.Context, query string, contexts []domain.FusedResult) (<-chan domain.GenerationChunk, error)
}

// AuditSink receives guardrail audit trails.
type AuditSink interface {
	PublishDecision(ctx context.Context, trail domain.AuditTrail) error
}

// AuditTrailRepository archives audit trails consumed from the audit stream.
type AuditTrailRepository interface {
	Save(ctx context.Context, trail domain.AuditTrail) (bool, error)
}

// TenantConfigRepository persists tenant configuration overrides.
type TenantConfigRepository interface {
	Save(ctx context.Context, cfg domain.TenantConfig) error
	Get(ctx context.Context, tenantID string) (*domain.TenantConfig, error)
	List(ctx context.Context) ([]domain.TenantConfig, error)
}
