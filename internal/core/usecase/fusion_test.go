package usecase

import (
	"math"
	"testing"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func vectorHits(ids ...string) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.SearchResult{ID: id, RawScore: 0.9 - float64(i)*0.1, Content: "v " + id, Origin: domain.OriginVector})
	}
	return out
}

func keywordHits(ids ...string) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.SearchResult{ID: id, RawScore: 12 - float64(i), Content: "k " + id, Origin: domain.OriginKeyword})
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestFuseRRFScoresMatchReciprocalRanks(t *testing.T) {
	fused := FuseRRF(vectorHits("a", "b"), keywordHits("a", "c"), FusionWeights{Vector: 1, Keyword: 1}, 60)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}

	byID := map[string]domain.FusedResult{}
	for _, item := range fused {
		byID[item.ID] = item
	}
	if got := byID["a"].FusionScore; !almostEqual(got, 2.0/61) {
		t.Fatalf("expected 2/61 for a, got %v", got)
	}
	if got := byID["b"].FusionScore; !almostEqual(got, 1.0/62) {
		t.Fatalf("expected 1/62 for b, got %v", got)
	}
	if byID["a"].SearchType != domain.SearchTypeHybrid {
		t.Fatalf("expected hybrid for a, got %s", byID["a"].SearchType)
	}
	if byID["b"].SearchType != domain.SearchTypeVectorOnly || byID["c"].SearchType != domain.SearchTypeKeywordOnly {
		t.Fatalf("unexpected search types: b=%s c=%s", byID["b"].SearchType, byID["c"].SearchType)
	}
	if byID["a"].VectorRank != 1 || byID["a"].KeywordRank != 1 {
		t.Fatalf("expected ranks 1/1 for a, got %d/%d", byID["a"].VectorRank, byID["a"].KeywordRank)
	}
	if byID["a"].FinalScore != 1 {
		t.Fatalf("expected top hybrid result final score 1, got %v", byID["a"].FinalScore)
	}
}

func TestFuseRRFSingleListContributionUsesWeight(t *testing.T) {
	fused := FuseRRF(vectorHits("only"), nil, FusionWeights{Vector: 0.7, Keyword: 0.3}, 60)
	if len(fused) != 1 {
		t.Fatalf("expected 1 result, got %d", len(fused))
	}
	if !almostEqual(fused[0].FusionScore, 0.7/61) {
		t.Fatalf("expected 0.7/61, got %v", fused[0].FusionScore)
	}
	if fused[0].KeywordScore != nil {
		t.Fatalf("expected no keyword score")
	}
}

func TestFuseRRFOutputIsSortedDescending(t *testing.T) {
	fused := FuseRRF(vectorHits("a", "b", "c", "d"), keywordHits("d", "c", "x"), FusionWeights{Vector: 0.4, Keyword: 0.6}, 60)
	for i := 1; i < len(fused); i++ {
		if fused[i-1].FusionScore < fused[i].FusionScore {
			t.Fatalf("results not sorted at %d: %v < %v", i, fused[i-1].FusionScore, fused[i].FusionScore)
		}
		if fused[i].Rank != i+1 {
			t.Fatalf("expected rank %d, got %d", i+1, fused[i].Rank)
		}
	}
}

func TestFuseRRFIsDeterministic(t *testing.T) {
	v := vectorHits("d", "b", "a", "c")
	k := keywordHits("c", "b", "e")
	first := FuseRRF(v, k, FusionWeights{Vector: 1, Keyword: 1}, 60)
	for run := 0; run < 20; run++ {
		next := FuseRRF(v, k, FusionWeights{Vector: 1, Keyword: 1}, 60)
		if len(next) != len(first) {
			t.Fatalf("length changed between runs")
		}
		for i := range first {
			if first[i].ID != next[i].ID || first[i].FusionScore != next[i].FusionScore {
				t.Fatalf("run %d differs at %d: %s/%v vs %s/%v", run, i, first[i].ID, first[i].FusionScore, next[i].ID, next[i].FusionScore)
			}
		}
	}
}

func TestFuseRRFTieBreaksByID(t *testing.T) {
	fused := FuseRRF(vectorHits("b"), keywordHits("a"), FusionWeights{Vector: 1, Keyword: 1}, 60)
	if fused[0].ID != "a" {
		t.Fatalf("expected tie-break by id, got first=%s", fused[0].ID)
	}
}

func TestFuseRRFKeepsRicherContent(t *testing.T) {
	vector := []domain.SearchResult{{ID: "a", Content: "short", Payload: map[string]any{"title": "A"}}}
	keyword := []domain.SearchResult{{ID: "a", Content: "a much longer body", Payload: map[string]any{"page": 3}}}

	fused := FuseRRF(vector, keyword, FusionWeights{Vector: 1, Keyword: 1}, 0)
	if fused[0].Content != "a much longer body" {
		t.Fatalf("expected richer content, got %q", fused[0].Content)
	}
	if fused[0].Payload["title"] != "A" || fused[0].Payload["page"] != 3 {
		t.Fatalf("expected merged payload, got %#v", fused[0].Payload)
	}
	if _, leaked := vector[0].Payload["page"]; leaked {
		t.Fatalf("input payload must not be mutated")
	}
}

func TestFuseMaxConfidenceLimitsToTopThree(t *testing.T) {
	cfg := domain.IntentConfig{VectorWeight: 0.3, KeywordWeight: 0.7, FusionStrategy: domain.FusionMaxConfidence}
	fused := Fuse(vectorHits("a", "b", "c", "d"), keywordHits("e", "a"), cfg, 60)
	if len(fused) != domain.MaxConfidenceTopN {
		t.Fatalf("expected %d results, got %d", domain.MaxConfidenceTopN, len(fused))
	}
	if fused[0].ID != "e" {
		t.Fatalf("expected keyword rank 1 to win, got %s", fused[0].ID)
	}
	if !almostEqual(fused[0].FusionScore, 0.7/61) {
		t.Fatalf("expected max contribution 0.7/61, got %v", fused[0].FusionScore)
	}
}

func TestFuseRRFAppliesExploratoryIntentWeights(t *testing.T) {
	cfg := domain.IntentConfig{VectorWeight: 0.7, KeywordWeight: 0.3, FusionStrategy: domain.FusionRRF}
	fused := Fuse(vectorHits("a", "b"), keywordHits("c"), cfg, 60)

	byID := map[string]domain.FusedResult{}
	for _, item := range fused {
		byID[item.ID] = item
	}
	if got := byID["a"].FusionScore; !almostEqual(got, 0.7/61) {
		t.Fatalf("expected 0.7/61 for vector-only a, got %v", got)
	}
	if got := byID["c"].FusionScore; !almostEqual(got, 0.3/61) {
		t.Fatalf("expected 0.3/61 for keyword-only c, got %v", got)
	}
	if got := ids(fused); got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected vector-weighted order a,b,c, got %v", got)
	}
}

func TestFuseWithoutWeightsFusesEqually(t *testing.T) {
	fused := Fuse(vectorHits("a"), keywordHits("a"), domain.IntentConfig{FusionStrategy: domain.FusionRRF}, 60)
	if !almostEqual(fused[0].FusionScore, 2.0/61) {
		t.Fatalf("expected 2/61, got %v", fused[0].FusionScore)
	}
}

func TestFuseRRFFinalScoreIsScaledByAttainableMaximum(t *testing.T) {
	fused := FuseRRF(vectorHits("a", "b"), keywordHits("a"), FusionWeights{Vector: 1, Keyword: 1}, 60)
	if !almostEqual(fused[0].FusionScore, 2.0/61) || fused[0].FinalScore != 1 {
		t.Fatalf("expected fusion 2/61 and final 1, got %v / %v", fused[0].FusionScore, fused[0].FinalScore)
	}
	if want := (1.0 / 62) / (2.0 / 61); !almostEqual(fused[1].FinalScore, want) {
		t.Fatalf("expected final %v for b, got %v", want, fused[1].FinalScore)
	}

	vectorOnly := FuseRRF(vectorHits("a", "b"), nil, FusionWeights{Vector: 0.7, Keyword: 0.3}, 60)
	if vectorOnly[0].FinalScore != 1 {
		t.Fatalf("expected missing keyword list to leave the top final score at 1, got %v", vectorOnly[0].FinalScore)
	}
	if want := 61.0 / 62; !almostEqual(vectorOnly[1].FinalScore, want) {
		t.Fatalf("expected final %v, got %v", want, vectorOnly[1].FinalScore)
	}
}
