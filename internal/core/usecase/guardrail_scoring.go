package usecase

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// stdDevSpread is the standard deviation at which the statistical estimator
// gives no credit for score consistency.
const stdDevSpread = 0.5

// rerankerConfidenceTopN is the number of reranker scores averaged into the
// reranker confidence term.
const rerankerConfidenceTopN = 3

// guardrailScores clamps final scores into [0,1], sorted descending.
func guardrailScores(results []domain.FusedResult) []float64 {
	scores := make([]float64, 0, len(results))
	for _, item := range results {
		scores = append(scores, clamp01(item.FinalScore))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	return scores
}

func computeStatistics(scores []float64) domain.ScoreStatistics {
	if len(scores) == 0 {
		return domain.ScoreStatistics{}
	}
	mean, std := stat.PopMeanStdDev(scores, nil)

	ascending := append([]float64(nil), scores...)
	sort.Float64s(ascending)
	return domain.ScoreStatistics{
		Mean:   mean,
		Max:    floats.Max(scores),
		Min:    floats.Min(scores),
		StdDev: std,
		Count:  len(scores),
		Percentiles: domain.ScorePercentiles{
			P25: stat.Quantile(0.25, stat.Empirical, ascending, nil),
			P50: stat.Quantile(0.50, stat.Empirical, ascending, nil),
			P75: stat.Quantile(0.75, stat.Empirical, ascending, nil),
			P90: stat.Quantile(0.90, stat.Empirical, ascending, nil),
		},
	}
}

func statisticalScore(s domain.ScoreStatistics) float64 {
	consistency := 1 - math.Min(s.StdDev/stdDevSpread, 1)
	return clamp01(0.5*s.Max + 0.3*s.Mean + 0.2*consistency)
}

func thresholdScore(scores []float64, s domain.ScoreStatistics, th domain.AnswerabilityThreshold) float64 {
	if len(scores) == 0 {
		return 0
	}
	top := 1.0
	if th.MinTopScore > 0 && s.Max < th.MinTopScore {
		top = s.Max / th.MinTopScore
	}
	above := 0
	for _, score := range scores {
		if score >= th.MinMeanScore {
			above++
		}
	}
	return clamp01(0.6*top + 0.4*float64(above)/float64(len(scores)))
}

// mlFeatureScore is a fixed logistic model over top score, mean, spread and
// result count.
func mlFeatureScore(s domain.ScoreStatistics) float64 {
	if s.Count == 0 {
		return 0
	}
	countFeature := math.Min(float64(s.Count), 5) / 5
	z := -4 + 5*s.Max + 3*s.Mean - 2*s.StdDev + 0.5*countFeature
	return clamp01(1 / (1 + math.Exp(-z)))
}

// rerankerConfidence averages the best reranker scores. It returns nil when no
// result carries one.
func rerankerConfidence(results []domain.FusedResult) *float64 {
	var scores []float64
	for _, item := range results {
		if item.RerankerScore != nil {
			scores = append(scores, clamp01(*item.RerankerScore))
		}
	}
	if len(scores) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	if len(scores) > rerankerConfidenceTopN {
		scores = scores[:rerankerConfidenceTopN]
	}
	v := stat.Mean(scores, nil)
	return &v
}

// combineScores returns the weighted confidence. Weights are renormalised over
// the terms that are present.
func combineScores(a domain.AlgorithmScores, w domain.AlgorithmWeights) (float64, domain.AlgorithmWeights) {
	if w.Statistical+w.Threshold+w.MLFeatures+w.RerankerConfidence <= 0 {
		w = domain.DefaultAlgorithmWeights()
	}
	values := []float64{a.Statistical, a.Threshold, a.MLFeatures}
	weights := []float64{w.Statistical, w.Threshold, w.MLFeatures}
	if a.RerankerConfidence != nil {
		values = append(values, *a.RerankerConfidence)
		weights = append(weights, w.RerankerConfidence)
	} else {
		w.RerankerConfidence = 0
	}

	total := floats.Sum(weights)
	if total <= 0 {
		return 0, w
	}
	applied := domain.AlgorithmWeights{
		Statistical:        w.Statistical / total,
		Threshold:          w.Threshold / total,
		MLFeatures:         w.MLFeatures / total,
		RerankerConfidence: w.RerankerConfidence / total,
	}
	return clamp01(floats.Dot(values, weights) / total), applied
}
