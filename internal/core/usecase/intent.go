package usecase

import (
	"math"
	"regexp"
	"strings"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

// HighConfidenceVectorScore is the top vector score at which targeted intents
// switch to max-confidence fusion.
const HighConfidenceVectorScore = 0.70

var intentTable = map[domain.QueryIntent]domain.IntentConfig{
	domain.IntentDefinitionMeasurementProcedure: {
		Intent:         domain.IntentDefinitionMeasurementProcedure,
		VectorWeight:   0.3,
		KeywordWeight:  0.7,
		RetrievalK:     10,
		FusionStrategy: domain.FusionWeightedRRF,
	},
	domain.IntentEntityLookup: {
		Intent:         domain.IntentEntityLookup,
		VectorWeight:   0.4,
		KeywordWeight:  0.6,
		RetrievalK:     15,
		FusionStrategy: domain.FusionWeightedRRF,
	},
	domain.IntentExploratory: {
		Intent:         domain.IntentExploratory,
		VectorWeight:   0.7,
		KeywordWeight:  0.3,
		RetrievalK:     20,
		FusionStrategy: domain.FusionRRF,
	},
}

var definitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(what|which)\s+(is|are|was|were)\s+(a|an|the)?\s*\w+`),
	regexp.MustCompile(`(?i)\b(define|definition|meaning\s+of|stands?\s+for)\b`),
	regexp.MustCompile(`(?i)\bwhat\s+does\s+.+\s+mean\b`),
	regexp.MustCompile(`(?i)\bhow\s+(long|many|much|far|big|large|tall|heavy|old|often|fast)\b`),
	regexp.MustCompile(`(?i)\b(measure[sd]?|measurement|units?|convert|conversion)\b`),
	regexp.MustCompile(`(?i)\bhow\s+(do|does|to|can|should)\s+(i|we|you|one)?\s*\w+`),
	regexp.MustCompile(`(?i)\b(steps?\s+(to|for)|procedure|instructions?\s+for)\b`),
}

var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(who|where|when)\b`),
	regexp.MustCompile(`(?i)\b(find|show|look\s*up|lookup|get)\b.+\b(document|policy|contract|invoice|report|customer|employee|ticket|record)s?\b`),
	regexp.MustCompile(`\b[A-Z]{2,}[-_]\d+\b`),
	regexp.MustCompile(`"[^"]+"`),
	regexp.MustCompile(`(?i)\b(id|number|code|version|sku)\s*[:#]?\s*[a-z]*\d+`),
}

var scaffoldingWords = map[string]struct{}{
	"what": {}, "which": {}, "is": {}, "are": {}, "was": {}, "were": {}, "a": {}, "an": {}, "the": {},
	"how": {}, "do": {}, "does": {}, "define": {}, "definition": {}, "of": {}, "mean": {}, "means": {},
	"meaning": {}, "in": {}, "to": {}, "i": {}, "we": {}, "you": {}, "can": {}, "should": {},
}

// IntentClassifier routes a query to its retrieval configuration.
type IntentClassifier struct{}

func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{}
}

// Classify returns the intent configuration for query. It never fails and
// defaults to exploratory.
func (c *IntentClassifier) Classify(query string) domain.IntentConfig {
	return c.ClassifyWithScore(query, nil)
}

// ClassifyWithScore applies the high-confidence shortcut when topVectorScore is set.
func (c *IntentClassifier) ClassifyWithScore(query string, topVectorScore *float64) domain.IntentConfig {
	intent := detectIntent(query)
	cfg := intentTable[intent]
	if intent == domain.IntentDefinitionMeasurementProcedure {
		cfg.ExpandedQuery = expandDefinitionQuery(query)
	}
	if topVectorScore != nil && *topVectorScore >= HighConfidenceVectorScore && intent != domain.IntentExploratory {
		cfg.FusionStrategy = domain.FusionMaxConfidence
	}
	return cfg
}

// VectorConfidence returns the top vector score as a confidence in [0,1].
// Scores are read as cosine similarity; a list with any score outside [-1,1]
// comes from an unbounded metric and yields no confidence.
func VectorConfidence(hits []domain.SearchResult) (float64, bool) {
	if len(hits) == 0 {
		return 0, false
	}
	top := math.Inf(-1)
	for _, hit := range hits {
		if math.IsNaN(hit.RawScore) || hit.RawScore < -1 || hit.RawScore > 1 {
			return 0, false
		}
		top = max(top, hit.RawScore)
	}
	return max(top, 0), true
}

func detectIntent(query string) domain.QueryIntent {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.IntentExploratory
	}
	for _, re := range definitionPatterns {
		if re.MatchString(query) {
			return domain.IntentDefinitionMeasurementProcedure
		}
	}
	for _, re := range entityPatterns {
		if re.MatchString(query) {
			return domain.IntentEntityLookup
		}
	}
	return domain.IntentExploratory
}

// expandDefinitionQuery strips question scaffolding so the keyword backend
// matches on the subject terms.
func expandDefinitionQuery(query string) string {
	tokens := splitAlphaNumLower(query)
	kept := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := scaffoldingWords[token]; ok {
			continue
		}
		kept = append(kept, token)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, " ")
}
