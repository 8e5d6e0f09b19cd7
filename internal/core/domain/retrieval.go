package domain

import (
	"fmt"
	"strings"
)

type SearchOrigin string

const (
	OriginVector  SearchOrigin = "vector"
	OriginKeyword SearchOrigin = "keyword"
)

type SearchType string

const (
	SearchTypeHybrid      SearchType = "hybrid"
	SearchTypeVectorOnly  SearchType = "vector_only"
	SearchTypeKeywordOnly SearchType = "keyword_only"
)

// SearchResult is one hit returned by a search backend. It is never mutated
// after the backend returns it.
type SearchResult struct {
	ID       string         `json:"id"`
	RawScore float64        `json:"raw_score"`
	Content  string         `json:"content"`
	Payload  map[string]any `json:"payload,omitempty"`
	Origin   SearchOrigin   `json:"origin"`
}

// Title returns the best human readable label stored in the payload.
func (r SearchResult) Title() string {
	for _, key := range []string{"title", "filename", "source"} {
		if v, ok := r.Payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// FusedResult is a search result carried through fusion, reranking and packing
// for the lifetime of a single request.
type FusedResult struct {
	SearchResult

	VectorScore        *float64   `json:"vector_score,omitempty"`
	KeywordScore       *float64   `json:"keyword_score,omitempty"`
	VectorRank         int        `json:"vector_rank,omitempty"`
	KeywordRank        int        `json:"keyword_rank,omitempty"`
	FusionScore        float64    `json:"fusion_score"`
	RerankerScore      *float64   `json:"reranker_score,omitempty"`
	AnswerabilityBonus float64    `json:"answerability_bonus,omitempty"`
	FinalScore         float64    `json:"final_score"`
	Rank               int        `json:"rank"`
	SearchType         SearchType `json:"search_type"`
}

type QueryIntent string

const (
	IntentDefinitionMeasurementProcedure QueryIntent = "DEFINITION_MEASUREMENT_PROCEDURE"
	IntentEntityLookup                   QueryIntent = "ENTITY_LOOKUP"
	IntentExploratory                    QueryIntent = "EXPLORATORY"
)

type FusionStrategy string

const (
	FusionRRF           FusionStrategy = "rrf"
	FusionWeightedRRF   FusionStrategy = "weighted_rrf"
	FusionMaxConfidence FusionStrategy = "max_confidence"
)

// MaxConfidenceTopN is the result cap applied by the max-confidence strategy.
const MaxConfidenceTopN = 3

// IntentConfig is the per-request retrieval configuration derived from the query.
type IntentConfig struct {
	Intent         QueryIntent    `json:"intent"`
	VectorWeight   float64        `json:"vector_weight"`
	KeywordWeight  float64        `json:"keyword_weight"`
	RetrievalK     int            `json:"retrieval_k"`
	FusionStrategy FusionStrategy `json:"fusion_strategy"`
	ExpandedQuery  string         `json:"expanded_query,omitempty"`
}

// FilterClause matches documents whose Key field holds any of Values.
type FilterClause struct {
	Key    string   `json:"key" yaml:"key"`
	Values []string `json:"values" yaml:"values"`
}

// Filter is the access-control predicate produced by the RBAC layer. The
// retrieval core forwards it to search backends without inspecting it.
type Filter struct {
	Must   []FilterClause `json:"must,omitempty"`
	Should []FilterClause `json:"should,omitempty"`
}

// NewFilter validates clauses and returns a filter safe to hand to backends.
func NewFilter(must, should []FilterClause) (Filter, error) {
	for _, group := range [][]FilterClause{must, should} {
		for i, clause := range group {
			if strings.TrimSpace(clause.Key) == "" {
				return Filter{}, WrapError(ErrInvalidInput, "new filter", fmt.Errorf("clause %d has empty key", i))
			}
			if len(clause.Values) == 0 {
				return Filter{}, WrapError(ErrInvalidInput, "new filter", fmt.Errorf("clause %q has no values", clause.Key))
			}
		}
	}
	return Filter{
		Must:   append([]FilterClause(nil), must...),
		Should: append([]FilterClause(nil), should...),
	}, nil
}

func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0 && len(f.Should) == 0
}

// SearchQuery is the request shape shared by vector and keyword backends.
type SearchQuery struct {
	Collection  string
	QueryVector []float32
	QueryText   string
	Limit       int
	Filter      Filter
}
