package domain

import (
	"errors"
	"fmt"
	"strings"
)

type DocumentSummary struct {
	ID         string     `json:"id"`
	Title      string     `json:"title,omitempty"`
	Snippet    string     `json:"snippet"`
	FinalScore float64    `json:"final_score"`
	Rank       int        `json:"rank"`
	SearchType SearchType `json:"search_type"`
}

type GuardrailSummary struct {
	IsAnswerable bool             `json:"is_answerable"`
	Confidence   float64          `json:"confidence"`
	Profile      ThresholdProfile `json:"profile"`
	ReasonCode   IDKReason        `json:"reason_code,omitempty"`
	AuditID      string           `json:"audit_id"`
}

// ResponseCompleted is the final payload of both the stream and the
// synchronous answer call.
type ResponseCompleted struct {
	RequestID string            `json:"request_id"`
	Answer    string            `json:"answer"`
	Documents []DocumentSummary `json:"documents"`
	Guardrail GuardrailSummary  `json:"guardrail"`
	IDK       *IDKResponse      `json:"idk_response,omitempty"`
	Metrics   *RetrievalMetrics `json:"metrics,omitempty"`
}

const snippetRunes = 240

// ResponseBuilder assembles ResponseCompleted. Mandatory fields are checked in Build.
type ResponseBuilder struct {
	requestID string
	answer    string
	hasAnswer bool
	documents []DocumentSummary
	decision  *GuardrailDecision
	metrics   *RetrievalMetrics
}

func NewResponseBuilder(requestID string) *ResponseBuilder {
	return &ResponseBuilder{requestID: requestID}
}

func (b *ResponseBuilder) WithAnswer(answer string) *ResponseBuilder {
	b.answer = answer
	b.hasAnswer = true
	return b
}

func (b *ResponseBuilder) WithResults(results []FusedResult) *ResponseBuilder {
	b.documents = make([]DocumentSummary, 0, len(results))
	for _, item := range results {
		b.documents = append(b.documents, DocumentSummary{
			ID:         item.ID,
			Title:      item.Title(),
			Snippet:    snippet(item.Content),
			FinalScore: item.FinalScore,
			Rank:       item.Rank,
			SearchType: item.SearchType,
		})
	}
	return b
}

func (b *ResponseBuilder) WithDecision(decision GuardrailDecision) *ResponseBuilder {
	b.decision = &decision
	return b
}

func (b *ResponseBuilder) WithMetrics(metrics RetrievalMetrics) *ResponseBuilder {
	b.metrics = &metrics
	return b
}

func (b *ResponseBuilder) Build() (ResponseCompleted, error) {
	var missing []string
	if strings.TrimSpace(b.requestID) == "" {
		missing = append(missing, "request_id")
	}
	if b.decision == nil {
		missing = append(missing, "guardrail decision")
	}
	if b.decision != nil {
		if b.decision.IsAnswerable && !b.hasAnswer {
			missing = append(missing, "answer")
		}
		if !b.decision.IsAnswerable && b.decision.IDKResponse == nil {
			missing = append(missing, "idk response")
		}
	}
	if len(missing) > 0 {
		return ResponseCompleted{}, WrapError(ErrInternalScoring, "build response", errors.New("missing "+strings.Join(missing, ", ")))
	}

	out := ResponseCompleted{
		RequestID: b.requestID,
		Answer:    b.answer,
		Documents: b.documents,
		Guardrail: GuardrailSummary{
			IsAnswerable: b.decision.IsAnswerable,
			Confidence:   b.decision.Score.Confidence,
			Profile:      b.decision.Profile,
			AuditID:      b.decision.AuditTrail.ID,
		},
		Metrics: b.metrics,
	}
	if out.Documents == nil {
		out.Documents = []DocumentSummary{}
	}
	if idk := b.decision.IDKResponse; idk != nil && !b.decision.IsAnswerable {
		out.IDK = idk
		out.Guardrail.ReasonCode = idk.ReasonCode
		if !b.hasAnswer {
			out.Answer = idk.Message
		}
	}
	return out, nil
}

// CitationsFor numbers packed results in rank order.
func CitationsFor(results []FusedResult) []Citation {
	out := make([]Citation, 0, len(results))
	for i, item := range results {
		out = append(out, Citation{Index: i + 1, ID: item.ID, Title: item.Title(), Score: item.FinalScore})
	}
	return out
}

func snippet(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return fmt.Sprintf("%s...", string(runes[:snippetRunes]))
}
