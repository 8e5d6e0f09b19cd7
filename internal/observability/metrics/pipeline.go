package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

const namespace = "grag"

// Answer outcome labels.
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
	OutcomeError    = "error"
)

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// PipelineMetrics records retrieval stages and guardrail decisions.
type PipelineMetrics struct {
	stageDuration   *prometheus.HistogramVec
	stageTotal      *prometheus.CounterVec
	resultCount     *prometheus.HistogramVec
	packedTokens    *prometheus.HistogramVec
	keywordDegraded *prometheus.CounterVec
	decisionsTotal  *prometheus.CounterVec
	confidence      *prometheus.HistogramVec
}

func NewPipelineMetrics(registry *prometheus.Registry) *PipelineMetrics {
	m := &PipelineMetrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds by outcome.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage", "outcome"},
		),
		stageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_total",
				Help:      "Pipeline stage executions by outcome.",
			},
			[]string{"stage", "outcome"},
		),
		resultCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "results",
				Help:      "Results per request at each step (vector, keyword, fused, packed).",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55},
			},
			[]string{"tenant", "step"},
		),
		packedTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "packed_tokens",
				Help:      "Tokens in the packed context per request.",
				Buckets:   prometheus.ExponentialBuckets(64, 2, 8),
			},
			[]string{"tenant"},
		),
		keywordDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "keyword_degraded_total",
				Help:      "Requests served without keyword results after a keyword failure.",
			},
			[]string{"tenant"},
		),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guardrail",
				Name:      "decisions_total",
				Help:      "Answerability decisions by profile and result.",
			},
			[]string{"tenant", "profile", "answerable"},
		),
		confidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "guardrail",
				Name:      "confidence",
				Help:      "Combined answerability confidence.",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"tenant"},
		),
	}
	registry.MustRegister(
		m.stageDuration,
		m.stageTotal,
		m.resultCount,
		m.packedTokens,
		m.keywordDegraded,
		m.decisionsTotal,
		m.confidence,
	)
	return m
}

func (m *PipelineMetrics) ObserveStage(stage, outcome string, duration time.Duration) {
	m.stageTotal.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveRetrieval(tenantID string, rm domain.RetrievalMetrics) {
	m.resultCount.WithLabelValues(tenantID, "vector").Observe(float64(rm.VectorCount))
	m.resultCount.WithLabelValues(tenantID, "keyword").Observe(float64(rm.KeywordCount))
	m.resultCount.WithLabelValues(tenantID, "fused").Observe(float64(rm.FusedCount))
	m.resultCount.WithLabelValues(tenantID, "packed").Observe(float64(rm.PackedCount))
	if rm.PackedTokens > 0 {
		m.packedTokens.WithLabelValues(tenantID).Observe(float64(rm.PackedTokens))
	}
	if rm.KeywordDegraded {
		m.keywordDegraded.WithLabelValues(tenantID).Inc()
	}
}

func (m *PipelineMetrics) ObserveDecision(tenantID string, decision domain.GuardrailDecision) {
	m.decisionsTotal.WithLabelValues(tenantID, string(decision.Profile), strconv.FormatBool(decision.IsAnswerable)).Inc()
	m.confidence.WithLabelValues(tenantID).Observe(decision.Score.Confidence)
}
