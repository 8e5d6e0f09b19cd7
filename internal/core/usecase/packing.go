package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

var errVectorCountMismatch = errors.New("embedding count does not match candidates")

var answerabilitySignals = []struct {
	pattern *regexp.Regexp
	weight  float64
}{
	{regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*(?:%|percent|hours?|hrs?|minutes?|mins?|seconds?|secs?|days?|weeks?|months?|years?|kg|mg|g|lbs?|km|cm|mm|m|miles?|ft|feet|inch(?:es)?|degrees?|usd|eur)\b`), 0.30},
	{regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:,\s*\d{4})?|(?:19|20)\d{2})\b`), 0.15},
	{regexp.MustCompile(`(?i)\b(?:is|are|means|refers\s+to|is\s+defined\s+as)\b`), 0.25},
	{regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+\S`), 0.15},
	{regexp.MustCompile(`(?m)^(?:#{1,6}\s+\S.*|[A-Z][A-Za-z0-9 ]{2,60}:)\s*$`), 0.15},
}

// answerabilityHeuristic scores how answer-shaped content looks, in [0,1].
func answerabilityHeuristic(content string) float64 {
	score := 0.0
	for _, signal := range answerabilitySignals {
		if signal.pattern.MatchString(content) {
			score += signal.weight
		}
	}
	return clamp01(score)
}

type PackOptions struct {
	Query            string
	MaxResults       int
	MaxTokens        int
	SafetyMargin     int
	MMRAlpha         float64
	BaseBonus        float64
	Rules            []domain.DirectAnswerRule
	EmbeddingTimeout time.Duration
}

func PackOptionsFrom(query string, search domain.SearchConfig, timeouts domain.TimeoutConfig) PackOptions {
	return PackOptions{
		Query:            query,
		MaxResults:       search.MaxContextResults,
		MaxTokens:        search.MaxContextTokens,
		SafetyMargin:     search.TokenSafetyMargin,
		MMRAlpha:         search.MMRAlpha,
		BaseBonus:        search.AnswerabilityBonus,
		Rules:            search.DirectAnswerRules,
		EmbeddingTimeout: timeouts.Embedding,
	}
}

type PackOutcome struct {
	Results     []domain.FusedResult
	Tokens      int
	NoveltyMode domain.NoveltyMode
}

// ContextPacker reweights, diversifies and token-budgets the candidate list.
type ContextPacker struct {
	tokenizer ports.Tokenizer
	embedder  ports.Embedder
	logger    *slog.Logger
	patterns  sync.Map
}

// NewContextPacker builds a packer. embedder may be nil, in which case novelty
// is measured with token Jaccard similarity.
func NewContextPacker(tokenizer ports.Tokenizer, embedder ports.Embedder, logger *slog.Logger) *ContextPacker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextPacker{tokenizer: tokenizer, embedder: embedder, logger: logger}
}

func (p *ContextPacker) Pack(ctx context.Context, items []domain.FusedResult, opts PackOptions) PackOutcome {
	if len(items) == 0 {
		return PackOutcome{Results: []domain.FusedResult{}, NoveltyMode: domain.NoveltyJaccard}
	}

	boosted := p.applyAnswerabilityBonus(items, opts)

	alpha := opts.MMRAlpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.5
	}
	sim, mode := p.similarityFor(ctx, boosted, opts.EmbeddingTimeout)
	picked := selectMMR(normalizedRelevance(boosted), sim, alpha, opts.MaxResults)

	selected := make([]domain.FusedResult, 0, len(picked))
	for _, idx := range picked {
		selected = append(selected, boosted[idx])
	}

	packed, tokens := p.applyTokenBudget(selected, opts.MaxTokens-opts.SafetyMargin)
	assignRanks(packed)
	return PackOutcome{Results: packed, Tokens: tokens, NoveltyMode: mode}
}

func (p *ContextPacker) applyAnswerabilityBonus(items []domain.FusedResult, opts PackOptions) []domain.FusedResult {
	out := make([]domain.FusedResult, len(items))
	copy(out, items)

	rules := p.matchingRules(opts.Query, opts.Rules)
	for i := range out {
		bonus := opts.BaseBonus * answerabilityHeuristic(out[i].Content)
		for _, rule := range rules {
			if rule.content.MatchString(out[i].Content) {
				bonus += rule.bonus
			}
		}
		out[i].AnswerabilityBonus = bonus
		out[i].FinalScore += bonus
	}
	sortByFinal(out)
	return out
}

type compiledRule struct {
	content *regexp.Regexp
	bonus   float64
}

// matchingRules returns the direct-answer rules whose query pattern matches.
// Rules with invalid patterns are skipped.
func (p *ContextPacker) matchingRules(query string, rules []domain.DirectAnswerRule) []compiledRule {
	var out []compiledRule
	for _, rule := range rules {
		queryRe := p.compile(rule.QueryPattern)
		contentRe := p.compile(rule.ContentPattern)
		if queryRe == nil || contentRe == nil || !queryRe.MatchString(query) {
			continue
		}
		bonus := rule.Bonus
		if bonus <= 0 {
			bonus = domain.DefaultDirectAnswerBonus
		}
		out = append(out, compiledRule{content: contentRe, bonus: bonus})
	}
	return out
}

func (p *ContextPacker) compile(pattern string) *regexp.Regexp {
	if cached, ok := p.patterns.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		p.logger.Warn("direct_answer_pattern_invalid", slog.String("pattern", pattern), slog.String("error", err.Error()))
		return nil
	}
	p.patterns.Store(pattern, re)
	return re
}

// normalizedRelevance scales final scores by the maximum. When no score is
// positive it falls back to min-max so ordering survives.
func normalizedRelevance(items []domain.FusedResult) []float64 {
	out := make([]float64, len(items))
	if len(items) == 0 {
		return out
	}
	maxScore, minScore := items[0].FinalScore, items[0].FinalScore
	for _, item := range items[1:] {
		maxScore = math.Max(maxScore, item.FinalScore)
		minScore = math.Min(minScore, item.FinalScore)
	}
	switch {
	case maxScore > 0:
		for i, item := range items {
			out[i] = math.Max(item.FinalScore, 0) / maxScore
		}
	case maxScore == minScore:
		for i := range out {
			out[i] = 1
		}
	default:
		for i, item := range items {
			out[i] = (item.FinalScore - minScore) / (maxScore - minScore)
		}
	}
	return out
}

// applyTokenBudget keeps items in order until budget is reached. The item that
// crosses the budget is cut on a token boundary and everything after it is
// dropped.
func (p *ContextPacker) applyTokenBudget(items []domain.FusedResult, budget int) ([]domain.FusedResult, int) {
	if p.tokenizer == nil {
		return items, 0
	}
	if budget <= 0 {
		return []domain.FusedResult{}, 0
	}

	out := make([]domain.FusedResult, 0, len(items))
	used := 0
	for _, item := range items {
		n := p.tokenizer.Count(item.Content)
		if used+n <= budget {
			out = append(out, item)
			used += n
			continue
		}
		remaining := budget - used
		if remaining > 0 {
			item.Content = p.tokenizer.Truncate(item.Content, remaining)
			out = append(out, item)
			used += p.tokenizer.Count(item.Content)
		}
		break
	}
	return out, used
}
