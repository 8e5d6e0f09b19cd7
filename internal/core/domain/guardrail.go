package domain

import "time"

type ScorePercentiles struct {
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
}

type ScoreStatistics struct {
	Mean        float64          `json:"mean"`
	Max         float64          `json:"max"`
	Min         float64          `json:"min"`
	StdDev      float64          `json:"std_dev"`
	Count       int              `json:"count"`
	Percentiles ScorePercentiles `json:"percentiles"`
}

// AlgorithmScores holds the independent confidence estimators, each in [0,1].
type AlgorithmScores struct {
	Statistical        float64  `json:"statistical"`
	Threshold          float64  `json:"threshold"`
	MLFeatures         float64  `json:"ml_features"`
	RerankerConfidence *float64 `json:"reranker_confidence,omitempty"`
}

type AlgorithmWeights struct {
	Statistical        float64 `json:"statistical" yaml:"statistical"`
	Threshold          float64 `json:"threshold" yaml:"threshold"`
	MLFeatures         float64 `json:"ml_features" yaml:"ml_features"`
	RerankerConfidence float64 `json:"reranker_confidence" yaml:"reranker_confidence"`
}

func DefaultAlgorithmWeights() AlgorithmWeights {
	return AlgorithmWeights{
		Statistical:        0.4,
		Threshold:          0.3,
		MLFeatures:         0.2,
		RerankerConfidence: 0.1,
	}
}

type ThresholdProfile string

const (
	ThresholdStrict     ThresholdProfile = "strict"
	ThresholdModerate   ThresholdProfile = "moderate"
	ThresholdPermissive ThresholdProfile = "permissive"
	ThresholdCustom     ThresholdProfile = "custom"
)

type AnswerabilityThreshold struct {
	MinConfidence  float64 `json:"min_confidence" yaml:"min_confidence"`
	MinTopScore    float64 `json:"min_top_score" yaml:"min_top_score"`
	MinMeanScore   float64 `json:"min_mean_score" yaml:"min_mean_score"`
	MaxStdDev      float64 `json:"max_std_dev" yaml:"max_std_dev"`
	MinResultCount int     `json:"min_result_count" yaml:"min_result_count"`
}

// GuardrailConfig is the tenant-scoped answerability configuration.
type GuardrailConfig struct {
	Profile          ThresholdProfile        `json:"profile" yaml:"profile"`
	CustomConfidence float64                 `json:"custom_confidence,omitempty" yaml:"custom_confidence"`
	Override         *AnswerabilityThreshold `json:"override,omitempty" yaml:"override"`
	Weights          AlgorithmWeights        `json:"weights" yaml:"weights"`
	SuggestionLimit  int                     `json:"suggestion_limit" yaml:"suggestion_limit"`
	SuggestionCutoff float64                 `json:"suggestion_cutoff" yaml:"suggestion_cutoff"`
}

func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		Profile:          ThresholdModerate,
		Weights:          DefaultAlgorithmWeights(),
		SuggestionLimit:  3,
		SuggestionCutoff: 0.2,
	}
}

type IDKReason string

const (
	ReasonNoRelevantDocs       IDKReason = "NO_RELEVANT_DOCS"
	ReasonLowConfidence        IDKReason = "LOW_CONFIDENCE"
	ReasonInsufficientEvidence IDKReason = "INSUFFICIENT_EVIDENCE"
	ReasonScoringError         IDKReason = "SCORING_ERROR"
)

type Suggestion struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// IDKResponse is the structured refusal returned when evidence is insufficient.
type IDKResponse struct {
	ReasonCode  IDKReason    `json:"reason_code"`
	Message     string       `json:"message"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

type AnswerabilityScore struct {
	Confidence float64          `json:"confidence"`
	Algorithms AlgorithmScores  `json:"algorithms"`
	Weights    AlgorithmWeights `json:"weights"`
	Statistics ScoreStatistics  `json:"statistics"`
}

type AuditTrail struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Query       string        `json:"query"`
	TenantID    string        `json:"tenant_id"`
	ResultCount int           `json:"result_count"`
	Answerable  bool          `json:"answerable"`
	Rationale   []string      `json:"rationale"`
	Duration    time.Duration `json:"duration_ns"`
}

// GuardrailDecision is the terminal artifact of the retrieval pipeline.
type GuardrailDecision struct {
	IsAnswerable bool                   `json:"is_answerable"`
	Score        AnswerabilityScore     `json:"score"`
	Threshold    AnswerabilityThreshold `json:"threshold"`
	Profile      ThresholdProfile       `json:"profile"`
	IDKResponse  *IDKResponse           `json:"idk_response,omitempty"`
	AuditTrail   AuditTrail             `json:"audit_trail"`
}
