package usecase

import (
	"maps"
	"math"
	"sort"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// DefaultRRFK is the reciprocal rank fusion constant.
const DefaultRRFK = 60

type FusionWeights struct {
	Vector  float64
	Keyword float64
}

// Fuse merges the two ranked lists with the strategy selected by cfg.
// Every strategy applies the intent weights; a config without weights fuses
// both lists equally.
func Fuse(vector, keyword []domain.SearchResult, cfg domain.IntentConfig, k int) []domain.FusedResult {
	weights := FusionWeights{Vector: cfg.VectorWeight, Keyword: cfg.KeywordWeight}
	if weights.Vector <= 0 && weights.Keyword <= 0 {
		weights = FusionWeights{Vector: 1, Keyword: 1}
	}
	if cfg.FusionStrategy == domain.FusionMaxConfidence {
		return FuseMaxConfidence(vector, keyword, weights, k)
	}
	return FuseRRF(vector, keyword, weights, k)
}

// FuseRRF scores each result as the sum of weight/(k+rank) over the lists it
// appears in. Output is sorted by fusion score, ties broken by id.
func FuseRRF(vector, keyword []domain.SearchResult, weights FusionWeights, k int) []domain.FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	acc := collectRanks(vector, keyword)
	for _, item := range acc {
		item.FusionScore = contribution(weights.Vector, k, item.VectorRank) + contribution(weights.Keyword, k, item.KeywordRank)
	}

	var best float64
	if len(vector) > 0 {
		best += weights.Vector / float64(k+1)
	}
	if len(keyword) > 0 {
		best += weights.Keyword / float64(k+1)
	}
	return finishFusion(acc, best, 0)
}

// FuseMaxConfidence keeps the strongest single-list contribution per result and
// returns at most domain.MaxConfidenceTopN results.
func FuseMaxConfidence(vector, keyword []domain.SearchResult, weights FusionWeights, k int) []domain.FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	acc := collectRanks(vector, keyword)
	for _, item := range acc {
		item.FusionScore = math.Max(contribution(weights.Vector, k, item.VectorRank), contribution(weights.Keyword, k, item.KeywordRank))
	}

	var best float64
	if len(vector) > 0 {
		best = weights.Vector / float64(k+1)
	}
	if len(keyword) > 0 {
		best = math.Max(best, weights.Keyword/float64(k+1))
	}
	return finishFusion(acc, best, domain.MaxConfidenceTopN)
}

func contribution(weight float64, k, rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return weight / float64(k+rank)
}

func collectRanks(vector, keyword []domain.SearchResult) map[string]*domain.FusedResult {
	acc := make(map[string]*domain.FusedResult, len(vector)+len(keyword))
	add := func(list []domain.SearchResult, origin domain.SearchOrigin) {
		for i, result := range list {
			item, ok := acc[result.ID]
			if !ok {
				item = &domain.FusedResult{SearchResult: result}
				item.Payload = maps.Clone(result.Payload)
				acc[result.ID] = item
			} else {
				item.SearchResult = preferRicherResult(item.SearchResult, result)
			}
			score := result.RawScore
			switch origin {
			case domain.OriginVector:
				if item.VectorRank == 0 {
					item.VectorRank = i + 1
					item.VectorScore = &score
				}
			case domain.OriginKeyword:
				if item.KeywordRank == 0 {
					item.KeywordRank = i + 1
					item.KeywordScore = &score
				}
			}
		}
	}
	add(vector, domain.OriginVector)
	add(keyword, domain.OriginKeyword)
	return acc
}

// finishFusion labels, seeds final scores, sorts and ranks. best is the highest
// attainable fusion score for the lists that returned results; final scores
// are fusion scores scaled into [0,1] by it.
func finishFusion(acc map[string]*domain.FusedResult, best float64, limit int) []domain.FusedResult {
	out := make([]domain.FusedResult, 0, len(acc))
	for _, item := range acc {
		switch {
		case item.VectorRank > 0 && item.KeywordRank > 0:
			item.SearchType = domain.SearchTypeHybrid
		case item.VectorRank > 0:
			item.SearchType = domain.SearchTypeVectorOnly
		default:
			item.SearchType = domain.SearchTypeKeywordOnly
		}
		if best > 0 {
			item.FinalScore = clamp01(item.FusionScore / best)
		}
		out = append(out, *item)
	}

	sortByFusion(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	assignRanks(out)
	return out
}

func sortByFusion(items []domain.FusedResult) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FusionScore != items[j].FusionScore {
			return items[i].FusionScore > items[j].FusionScore
		}
		return items[i].ID < items[j].ID
	})
}

func sortByFinal(items []domain.FusedResult) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].FinalScore != items[j].FinalScore {
			return items[i].FinalScore > items[j].FinalScore
		}
		return items[i].ID < items[j].ID
	})
}

func assignRanks(items []domain.FusedResult) {
	for i := range items {
		items[i].Rank = i + 1
	}
}

// preferRicherResult keeps the longer content and fills payload keys missing
// from current.
func preferRicherResult(current, candidate domain.SearchResult) domain.SearchResult {
	if len(candidate.Content) > len(current.Content) {
		current.Content = candidate.Content
	}
	for key, value := range candidate.Payload {
		if _, ok := current.Payload[key]; ok {
			continue
		}
		if current.Payload == nil {
			current.Payload = make(map[string]any, len(candidate.Payload))
		}
		current.Payload[key] = value
	}
	return current
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
