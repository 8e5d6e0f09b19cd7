package ports

import (
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// PipelineObserver records pipeline observations for metrics backends.
type PipelineObserver interface {
	ObserveStage(stage, outcome string, duration time.Duration)
	ObserveRetrieval(tenantID string, metrics domain.RetrievalMetrics)
	ObserveDecision(tenantID string, decision domain.GuardrailDecision)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) ObserveStage(string, string, time.Duration) {}
func (NopObserver) ObserveRetrieval(string, domain.RetrievalMetrics) {}
func (NopObserver) ObserveDecision(string, domain.GuardrailDecision) {}
