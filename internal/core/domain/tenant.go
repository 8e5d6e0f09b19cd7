package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type TimeoutConfig struct {
	VectorSearch    time.Duration `json:"vector_search" yaml:"vector_search"`
	KeywordSearch   time.Duration `json:"keyword_search" yaml:"keyword_search"`
	Reranker        time.Duration `json:"reranker" yaml:"reranker"`
	Embedding       time.Duration `json:"embedding" yaml:"embedding"`
	LLM             time.Duration `json:"llm" yaml:"llm"`
	Overall         time.Duration `json:"overall" yaml:"overall"`
	FallbackEnabled bool          `json:"fallback_enabled" yaml:"fallback_enabled"`
}

func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		VectorSearch:    5 * time.Second,
		KeywordSearch:   3 * time.Second,
		Reranker:        10 * time.Second,
		Embedding:       5 * time.Second,
		LLM:             60 * time.Second,
		Overall:         90 * time.Second,
		FallbackEnabled: true,
	}
}

// Normalize fills zero durations from the defaults.
func (c TimeoutConfig) Normalize() TimeoutConfig {
	def := DefaultTimeoutConfig()
	out := c
	if out.VectorSearch <= 0 {
		out.VectorSearch = def.VectorSearch
	}
	if out.KeywordSearch <= 0 {
		out.KeywordSearch = def.KeywordSearch
	}
	if out.Reranker <= 0 {
		out.Reranker = def.Reranker
	}
	if out.Embedding <= 0 {
		out.Embedding = def.Embedding
	}
	if out.LLM <= 0 {
		out.LLM = def.LLM
	}
	if out.Overall <= 0 {
		out.Overall = def.Overall
	}
	return out
}

// DirectAnswerRule boosts candidates whose content answers a narrow query shape.
type DirectAnswerRule struct {
	Name           string  `json:"name" yaml:"name"`
	QueryPattern   string  `json:"query_pattern" yaml:"query_pattern"`
	ContentPattern string  `json:"content_pattern" yaml:"content_pattern"`
	Bonus          float64 `json:"bonus,omitempty" yaml:"bonus"`
}

// DefaultDirectAnswerBonus is used by rules that do not set their own bonus.
const DefaultDirectAnswerBonus = 0.5

// SearchConfig is the tenant-scoped retrieval and packing configuration.
type SearchConfig struct {
	VectorCollection   string             `json:"vector_collection" yaml:"vector_collection"`
	KeywordCollection  string             `json:"keyword_collection" yaml:"keyword_collection"`
	RRFK               int                `json:"rrf_k" yaml:"rrf_k"`
	RerankEnabled      bool               `json:"rerank_enabled" yaml:"rerank_enabled"`
	RerankTopK         int                `json:"rerank_top_k" yaml:"rerank_top_k"`
	RerankBatchSize    int                `json:"rerank_batch_size" yaml:"rerank_batch_size"`
	MaxContextResults  int                `json:"max_context_results" yaml:"max_context_results"`
	MaxContextTokens   int                `json:"max_context_tokens" yaml:"max_context_tokens"`
	TokenSafetyMargin  int                `json:"token_safety_margin" yaml:"token_safety_margin"`
	MMRAlpha           float64            `json:"mmr_alpha" yaml:"mmr_alpha"`
	AnswerabilityBonus float64            `json:"answerability_bonus" yaml:"answerability_bonus"`
	DirectAnswerRules  []DirectAnswerRule `json:"direct_answer_rules,omitempty" yaml:"direct_answer_rules"`
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		VectorCollection:   "documents",
		KeywordCollection:  "documents",
		RRFK:               60,
		RerankEnabled:      true,
		RerankTopK:         8,
		RerankBatchSize:    8,
		MaxContextResults:  8,
		MaxContextTokens:   3000,
		TokenSafetyMargin:  200,
		MMRAlpha:           0.5,
		AnswerabilityBonus: 0.1,
	}
}

// Normalize fills unset numeric fields from the defaults.
func (c SearchConfig) Normalize() SearchConfig {
	def := DefaultSearchConfig()
	out := c
	if strings.TrimSpace(out.VectorCollection) == "" {
		out.VectorCollection = def.VectorCollection
	}
	if strings.TrimSpace(out.KeywordCollection) == "" {
		out.KeywordCollection = def.KeywordCollection
	}
	if out.RRFK <= 0 {
		out.RRFK = def.RRFK
	}
	if out.RerankTopK <= 0 {
		out.RerankTopK = def.RerankTopK
	}
	if out.RerankBatchSize <= 0 {
		out.RerankBatchSize = def.RerankBatchSize
	}
	if out.MaxContextResults <= 0 {
		out.MaxContextResults = def.MaxContextResults
	}
	if out.MaxContextTokens <= 0 {
		out.MaxContextTokens = def.MaxContextTokens
	}
	if out.TokenSafetyMargin < 0 {
		out.TokenSafetyMargin = 0
	}
	if out.MMRAlpha <= 0 || out.MMRAlpha > 1 {
		out.MMRAlpha = def.MMRAlpha
	}
	if out.AnswerabilityBonus < 0 {
		out.AnswerabilityBonus = 0
	}
	return out
}

// TenantConfig groups the per-tenant overrides applied by administrative calls.
// Nil sections leave the current configuration untouched.
type TenantConfig struct {
	TenantID  string           `json:"tenant_id" yaml:"tenant_id"`
	Guardrail *GuardrailConfig `json:"guardrail,omitempty" yaml:"guardrail"`
	Timeouts  *TimeoutConfig   `json:"timeouts,omitempty" yaml:"timeouts"`
	Search    *SearchConfig    `json:"search,omitempty" yaml:"search"`
}

func (c TenantConfig) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("tenant_id is required"))
	}
	if g := c.Guardrail; g != nil {
		switch g.Profile {
		case "", ThresholdStrict, ThresholdModerate, ThresholdPermissive:
		case ThresholdCustom:
			if g.CustomConfidence <= 0 || g.CustomConfidence > 1 {
				return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("custom_confidence must be in (0,1]"))
			}
		default:
			return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("unknown threshold profile %q", g.Profile))
		}
	}
	if t := c.Timeouts; t != nil {
		for _, d := range []time.Duration{t.VectorSearch, t.KeywordSearch, t.Reranker, t.Embedding, t.LLM, t.Overall} {
			if d < 0 {
				return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("timeouts must not be negative"))
			}
		}
	}
	if s := c.Search; s != nil {
		if s.MMRAlpha < 0 || s.MMRAlpha > 1 {
			return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("mmr_alpha must be in [0,1]"))
		}
		maxTokens := s.MaxContextTokens
		if maxTokens <= 0 {
			maxTokens = DefaultSearchConfig().MaxContextTokens
		}
		if s.TokenSafetyMargin >= maxTokens {
			return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("token_safety_margin %d must be below max_context_tokens %d", s.TokenSafetyMargin, maxTokens))
		}
		for _, rule := range s.DirectAnswerRules {
			if strings.TrimSpace(rule.QueryPattern) == "" || strings.TrimSpace(rule.ContentPattern) == "" {
				return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("direct answer rule %q needs query and content patterns", rule.Name))
			}
			for _, pattern := range []string{rule.QueryPattern, rule.ContentPattern} {
				if _, err := regexp.Compile(pattern); err != nil {
					return WrapError(ErrInvalidInput, "validate tenant config", fmt.Errorf("direct answer rule %q: %w", rule.Name, err))
				}
			}
		}
	}
	return nil
}
