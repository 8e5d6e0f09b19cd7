package domain

import "time"

type NoveltyMode string

const (
	NoveltyEmbedding NoveltyMode = "embedding"
	NoveltyJaccard   NoveltyMode = "jaccard"
)

// RetrievalMetrics records per-stage timing and counts for one request.
type RetrievalMetrics struct {
	Intent           QueryIntent              `json:"intent"`
	FusionStrategy   FusionStrategy           `json:"fusion_strategy"`
	StageDurations   map[string]time.Duration `json:"stage_durations_ns"`
	VectorCount      int                      `json:"vector_count"`
	KeywordCount     int                      `json:"keyword_count"`
	FusedCount       int                      `json:"fused_count"`
	PackedCount      int                      `json:"packed_count"`
	PackedTokens     int                      `json:"packed_tokens"`
	RerankingEnabled bool                     `json:"reranking_enabled"`
	KeywordDegraded  bool                     `json:"keyword_degraded"`
	NoveltyMode      NoveltyMode              `json:"novelty_mode"`
	Total            time.Duration            `json:"total_ns"`
}

func (m *RetrievalMetrics) Observe(stage string, d time.Duration) {
	if m.StageDurations == nil {
		m.StageDurations = make(map[string]time.Duration)
	}
	m.StageDurations[stage] = d
}

type RetrievalRequest struct {
	Query    string
	TenantID string
	Filter   Filter
}

// RetrievalOutcome is the packed evidence set plus the decision that gates it.
type RetrievalOutcome struct {
	Results  []FusedResult
	Decision GuardrailDecision
	Intent   IntentConfig
	Metrics  RetrievalMetrics
}

// AnswerRequest is the input of both the synchronous and streaming answer calls.
type AnswerRequest struct {
	RequestID      string
	Query          string
	TenantID       string
	Filter         Filter
	IncludeMetrics bool
}

func (r AnswerRequest) Retrieval() RetrievalRequest {
	return RetrievalRequest{Query: r.Query, TenantID: r.TenantID, Filter: r.Filter}
}

type RerankDocument struct {
	ID      string
	Content string
}

type RerankScore struct {
	ID    string
	Score float64
}

// GenerationChunk is one piece of streamed model output. A chunk with Err set
// is the last one the generator sends.
type GenerationChunk struct {
	Text string
	Err  error
}
