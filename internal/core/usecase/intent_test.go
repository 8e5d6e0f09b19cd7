package usecase

import (
	"testing"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

func TestClassifyIntentFamilies(t *testing.T) {
	classifier := NewIntentClassifier()
	cases := []struct {
		query string
		want  domain.QueryIntent
	}{
		{"How long is a day in hours?", domain.IntentDefinitionMeasurementProcedure},
		{"What is machine learning?", domain.IntentDefinitionMeasurementProcedure},
		{"define latency budget", domain.IntentDefinitionMeasurementProcedure},
		{"How do I reset my password", domain.IntentDefinitionMeasurementProcedure},
		{"Who approved the travel policy?", domain.IntentEntityLookup},
		{"find the contract for ACME-2231", domain.IntentEntityLookup},
		{"invoice number 88231", domain.IntentEntityLookup},
		{"trends in renewable energy adoption", domain.IntentExploratory},
		{"", domain.IntentExploratory},
	}
	for _, tc := range cases {
		got := classifier.Classify(tc.query)
		if got.Intent != tc.want {
			t.Fatalf("query %q: expected %s, got %s", tc.query, tc.want, got.Intent)
		}
	}
}

func TestClassifyMeasurementQueryWeights(t *testing.T) {
	cfg := NewIntentClassifier().Classify("How long is a day in hours?")
	if cfg.KeywordWeight != 0.7 || cfg.VectorWeight != 0.3 {
		t.Fatalf("unexpected weights: %+v", cfg)
	}
	if cfg.RetrievalK != 10 || cfg.FusionStrategy != domain.FusionWeightedRRF {
		t.Fatalf("unexpected retrieval config: %+v", cfg)
	}
	if cfg.ExpandedQuery != "long day hours" {
		t.Fatalf("unexpected expanded query %q", cfg.ExpandedQuery)
	}
}

func TestClassifyHighConfidenceShortcut(t *testing.T) {
	classifier := NewIntentClassifier()
	high := 0.82
	low := 0.5

	if got := classifier.ClassifyWithScore("Who owns the billing service", &high); got.FusionStrategy != domain.FusionMaxConfidence {
		t.Fatalf("expected max_confidence for entity lookup, got %s", got.FusionStrategy)
	}
	if got := classifier.ClassifyWithScore("Who owns the billing service", &low); got.FusionStrategy != domain.FusionWeightedRRF {
		t.Fatalf("expected weighted_rrf below threshold, got %s", got.FusionStrategy)
	}
	if got := classifier.ClassifyWithScore("ideas for team offsites", &high); got.FusionStrategy != domain.FusionRRF {
		t.Fatalf("exploratory must keep rrf, got %s", got.FusionStrategy)
	}
}

func TestVectorConfidenceReadsCosineScores(t *testing.T) {
	hits := []domain.SearchResult{{RawScore: 0.41}, {RawScore: 0.83}, {RawScore: -0.2}}
	if got, ok := VectorConfidence(hits); !ok || got != 0.83 {
		t.Fatalf("expected confidence 0.83, got %v (ok=%v)", got, ok)
	}

	if got, ok := VectorConfidence([]domain.SearchResult{{RawScore: -0.4}}); !ok || got != 0 {
		t.Fatalf("negative cosine must clamp to 0, got %v (ok=%v)", got, ok)
	}
}

func TestVectorConfidenceRejectsUnboundedScores(t *testing.T) {
	if _, ok := VectorConfidence([]domain.SearchResult{{RawScore: 0.5}, {RawScore: 14.2}}); ok {
		t.Fatal("dot product scores must not yield a confidence")
	}
	if _, ok := VectorConfidence(nil); ok {
		t.Fatal("empty hits must not yield a confidence")
	}
}
