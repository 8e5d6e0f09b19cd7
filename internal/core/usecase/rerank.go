package usecase

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

type RerankOptions struct {
	Enabled   bool
	TopK      int
	BatchSize int
	Timeout   time.Duration
}

// RerankStage rescores the head of the fused list with a cross-encoder. Any
// failure leaves the fusion order untouched.
type RerankStage struct {
	reranker ports.Reranker
	logger   *slog.Logger
}

func NewRerankStage(reranker ports.Reranker, logger *slog.Logger) *RerankStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RerankStage{reranker: reranker, logger: logger}
}

// Apply returns the reranked list and whether reranking ran. On error the fused
// list is returned as is alongside the cause. The input slice is never modified.
func (s *RerankStage) Apply(ctx context.Context, query string, fused []domain.FusedResult, opts RerankOptions) ([]domain.FusedResult, bool, error) {
	if !opts.Enabled || s == nil || s.reranker == nil || len(fused) == 0 {
		return fused, false, nil
	}

	topN := opts.TopK
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = topN
	}

	docs := make([]domain.RerankDocument, 0, topN)
	for _, item := range fused[:topN] {
		docs = append(docs, domain.RerankDocument{ID: item.ID, Content: item.Content})
	}

	started := time.Now()
	scores, err := ExecuteWithTimeout(ctx, opts.Timeout, domain.StageReranker, func(ctx context.Context) ([]domain.RerankScore, error) {
		out := make([]domain.RerankScore, 0, len(docs))
		for start := 0; start < len(docs); start += batchSize {
			end := min(start+batchSize, len(docs))
			batch, err := s.reranker.Rerank(ctx, query, docs[start:end], end-start)
			if err != nil {
				return nil, err
			}
			out = append(out, batch...)
		}
		return out, nil
	})
	if err != nil {
		s.logger.Warn("reranking_failed_using_fusion_scores",
			slog.String("error", err.Error()),
			slog.Int("candidate_count", len(docs)),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
		return fused, false, err
	}

	byID := make(map[string]float64, len(scores))
	logits := !unitInterval(scores)
	for _, score := range scores {
		if logits {
			byID[score.ID] = sigmoid(score.Score)
		} else {
			byID[score.ID] = score.Score
		}
	}

	out := make([]domain.FusedResult, len(fused))
	copy(out, fused)
	scored := 0
	for i := range out {
		score, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		out[i].RerankerScore = &score
		out[i].FinalScore = score
		scored++
	}
	sortByFinal(out)
	assignRanks(out)

	s.logger.Info("reranking_completed",
		slog.Int("candidate_count", len(docs)),
		slog.Int("scored_count", scored),
		slog.Bool("logit_scores", logits),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()),
	)
	return out, true, nil
}

// unitInterval reports whether every score already lies in [0,1]. Services
// returning raw logits are mapped through a sigmoid so final scores stay
// comparable with fusion scores and guardrail thresholds.
func unitInterval(scores []domain.RerankScore) bool {
	for _, score := range scores {
		if score.Score < 0 || score.Score > 1 || math.IsNaN(score.Score) {
			return false
		}
	}
	return true
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
