package domain

import "time"

type StreamEventKind string

const (
	EventConnectionOpened  StreamEventKind = "connection_opened"
	EventChunk             StreamEventKind = "chunk"
	EventCitations         StreamEventKind = "citations"
	EventMetadata          StreamEventKind = "metadata"
	EventResponseCompleted StreamEventKind = "response_completed"
	EventError             StreamEventKind = "error"
	EventDone              StreamEventKind = "done"
)

// StreamEvent is one element of the answer stream. Payload holds the typed
// struct matching Kind.
type StreamEvent struct {
	Kind    StreamEventKind
	Payload any
}

type ConnectionOpened struct {
	RequestID string    `json:"request_id"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Chunk struct {
	Text        string `json:"text"`
	Accumulated string `json:"accumulated"`
}

type Citation struct {
	Index int     `json:"index"`
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score"`
}

type Citations struct {
	Citations []Citation `json:"citations"`
}

type Metadata struct {
	Intent         QueryIntent    `json:"intent"`
	FusionStrategy FusionStrategy `json:"fusion_strategy"`
	ResultCount    int            `json:"result_count"`
	Confidence     float64        `json:"confidence"`
}

type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Done struct {
	RequestID string `json:"request_id"`
}

// GenericStreamErrorMessage is the only error text exposed to stream clients.
const GenericStreamErrorMessage = "the request could not be completed"
