package ports

import (
	"context"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// Retriever is the inbound contract for the hybrid retrieval pipeline.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalOutcome, error)
}

// AnswerService is the inbound contract for grounded answers.
type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.ResponseCompleted, error)
	Stream(ctx context.Context, req domain.AnswerRequest) <-chan domain.StreamEvent
}

// TenantConfigAdmin applies and reads tenant configuration.
type TenantConfigAdmin interface {
	Apply(ctx context.Context, cfg domain.TenantConfig) error
	Current(tenantID string) domain.TenantConfig
	Overrides(tenantID string) (domain.TenantConfig, error)
}
