package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/tenant"
)

var idkMessages = map[domain.IDKReason]string{
	domain.ReasonNoRelevantDocs:       "I could not find any documents relevant to your question.",
	domain.ReasonLowConfidence:        "I found some related material, but not enough to answer confidently.",
	domain.ReasonInsufficientEvidence: "The available documents do not contain enough evidence to answer this question.",
	domain.ReasonScoringError:         "I cannot verify an answer to this question right now.",
}

// Guardrail decides whether packed evidence is sufficient to answer. It does
// no I/O and always returns a decision.
type Guardrail struct {
	configs *tenant.Store[domain.GuardrailConfig]
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewGuardrail(configs *tenant.Store[domain.GuardrailConfig], logger *slog.Logger) *Guardrail {
	if configs == nil {
		configs = tenant.NewStore(domain.DefaultGuardrailConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guardrail{
		configs: configs,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (g *Guardrail) Evaluate(ctx context.Context, query, tenantID string, results []domain.FusedResult, reranked bool) (decision domain.GuardrailDecision) {
	started := g.now()
	cfg := g.configs.Resolve(tenantID)
	threshold, profile := ThresholdFor(cfg)

	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "guardrail_scoring_failed",
				slog.String("tenant_id", tenantID),
				slog.String("error", fmt.Sprint(r)),
			)
			decision = g.conservativeRefusal(query, tenantID, len(results), threshold, profile, started, fmt.Sprint(r))
		}
	}()

	decision, err := g.evaluate(query, tenantID, results, reranked, cfg, threshold, profile, started)
	if err != nil {
		g.logger.ErrorContext(ctx, "guardrail_scoring_failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return g.conservativeRefusal(query, tenantID, len(results), threshold, profile, started, err.Error())
	}
	if !decision.IsAnswerable {
		g.logger.InfoContext(ctx, "guardrail_refused",
			slog.String("tenant_id", tenantID),
			slog.String("reason_code", string(decision.IDKResponse.ReasonCode)),
			slog.Float64("confidence", decision.Score.Confidence),
			slog.Int("result_count", len(results)),
		)
	}
	return decision
}

func (g *Guardrail) evaluate(
	query, tenantID string,
	results []domain.FusedResult,
	reranked bool,
	cfg domain.GuardrailConfig,
	threshold domain.AnswerabilityThreshold,
	profile domain.ThresholdProfile,
	started time.Time,
) (domain.GuardrailDecision, error) {
	for _, item := range results {
		if math.IsNaN(item.FinalScore) || math.IsInf(item.FinalScore, 0) {
			return domain.GuardrailDecision{}, domain.WrapError(domain.ErrInternalScoring, "evaluate guardrail", fmt.Errorf("non-finite score for %s", item.ID))
		}
	}

	scores := guardrailScores(results)
	stats := computeStatistics(scores)
	algorithms := domain.AlgorithmScores{
		Statistical: statisticalScore(stats),
		Threshold:   thresholdScore(scores, stats, threshold),
		MLFeatures:  mlFeatureScore(stats),
	}
	if len(scores) == 0 {
		algorithms.Statistical = 0
	}
	if reranked {
		algorithms.RerankerConfidence = rerankerConfidence(results)
	}
	confidence, weights := combineScores(algorithms, cfg.Weights)

	checks := []struct {
		name   string
		passed bool
		detail string
	}{
		{"confidence", confidence >= threshold.MinConfidence, fmt.Sprintf("confidence %.3f vs min %.3f", confidence, threshold.MinConfidence)},
		{"top_score", stats.Max >= threshold.MinTopScore, fmt.Sprintf("top_score %.3f vs min %.3f", stats.Max, threshold.MinTopScore)},
		{"mean_score", stats.Mean >= threshold.MinMeanScore, fmt.Sprintf("mean_score %.3f vs min %.3f", stats.Mean, threshold.MinMeanScore)},
		{"std_dev", stats.StdDev <= threshold.MaxStdDev, fmt.Sprintf("std_dev %.3f vs max %.3f", stats.StdDev, threshold.MaxStdDev)},
		{"result_count", stats.Count >= threshold.MinResultCount, fmt.Sprintf("result_count %d vs min %d", stats.Count, threshold.MinResultCount)},
	}
	answerable := len(scores) > 0
	rationale := make([]string, 0, len(checks)+1)
	rationale = append(rationale, fmt.Sprintf("profile %s", profile))
	for _, check := range checks {
		status := "pass"
		if !check.passed {
			status = "fail"
			answerable = false
		}
		rationale = append(rationale, fmt.Sprintf("%s: %s", status, check.detail))
	}

	decision := domain.GuardrailDecision{
		IsAnswerable: answerable,
		Score: domain.AnswerabilityScore{
			Confidence: confidence,
			Algorithms: algorithms,
			Weights:    weights,
			Statistics: stats,
		},
		Threshold: threshold,
		Profile:   profile,
	}
	if !answerable {
		reason := domain.ReasonInsufficientEvidence
		switch {
		case len(scores) == 0:
			reason = domain.ReasonNoRelevantDocs
		case confidence < threshold.MinConfidence:
			reason = domain.ReasonLowConfidence
		}
		decision.IDKResponse = &domain.IDKResponse{
			ReasonCode:  reason,
			Message:     idkMessages[reason],
			Suggestions: suggestionsFrom(results, cfg),
		}
		rationale = append(rationale, fmt.Sprintf("refused: %s", reason))
	}
	decision.AuditTrail = g.auditTrail(query, tenantID, len(results), answerable, rationale, started)
	return decision, nil
}

func (g *Guardrail) conservativeRefusal(
	query, tenantID string,
	resultCount int,
	threshold domain.AnswerabilityThreshold,
	profile domain.ThresholdProfile,
	started time.Time,
	cause string,
) domain.GuardrailDecision {
	return domain.GuardrailDecision{
		IsAnswerable: false,
		Threshold:    threshold,
		Profile:      profile,
		IDKResponse: &domain.IDKResponse{
			ReasonCode: domain.ReasonScoringError,
			Message:    idkMessages[domain.ReasonScoringError],
		},
		AuditTrail: g.auditTrail(query, tenantID, resultCount, false, []string{"scoring error: " + cause, "refused: " + string(domain.ReasonScoringError)}, started),
	}
}

func (g *Guardrail) auditTrail(query, tenantID string, count int, answerable bool, rationale []string, started time.Time) domain.AuditTrail {
	now := g.now()
	return domain.AuditTrail{
		ID:          g.newID(),
		Timestamp:   now,
		Query:       query,
		TenantID:    tenantID,
		ResultCount: count,
		Answerable:  answerable,
		Rationale:   rationale,
		Duration:    now.Sub(started),
	}
}

// suggestionsFrom lists results scoring at least the configured cutoff, best first.
func suggestionsFrom(results []domain.FusedResult, cfg domain.GuardrailConfig) []domain.Suggestion {
	limit := cfg.SuggestionLimit
	if limit <= 0 {
		return nil
	}
	ordered := make([]domain.FusedResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FinalScore > ordered[j].FinalScore
	})

	var out []domain.Suggestion
	for _, item := range ordered {
		if len(out) >= limit {
			break
		}
		if item.FinalScore < cfg.SuggestionCutoff {
			continue
		}
		title := item.Title()
		if title == "" {
			title = item.ID
		}
		out = append(out, domain.Suggestion{ID: item.ID, Title: title, Score: item.FinalScore})
	}
	return out
}
