package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTemporary            = errors.New("temporary failure")
	ErrStageTimeout         = errors.New("stage timeout")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrInsufficientEvidence = errors.New("insufficient evidence")
	ErrInternalScoring      = errors.New("internal scoring error")
	ErrRequestTimeout       = errors.New("request timeout")
	ErrTenantNotFound       = errors.New("tenant not found")
)

// Stable error codes returned to synchronous clients and in stream error events.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeStageTimeout        = "STAGE_TIMEOUT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRequestTimeout      = "REQUEST_TIMEOUT"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL_ERROR"
)

// Pipeline stage labels used in errors, metrics and logs.
const (
	StageEmbedding     = "embedding"
	StageVectorSearch  = "vector_search"
	StageKeywordSearch = "keyword_search"
	StageFusion        = "fusion"
	StageReranker      = "reranker"
	StageNovelty       = "novelty_embedding"
	StagePacking       = "packing"
	StageGuardrail     = "guardrail"
	StageGeneration    = "generation"
	StageRetrieval     = "retrieval"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// StageTimeoutError reports an external call that exceeded its budget.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded timeout of %s", e.Stage, e.Timeout)
}

func (e *StageTimeoutError) Is(target error) bool {
	return target == ErrStageTimeout
}

// StageError attaches the failing pipeline stage to an error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError classifies err into the taxonomy and tags it with stage.
// Timeouts keep their kind, context deadline errors become request timeouts and
// everything else is reported as an unavailable upstream.
func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsKind(err, ErrStageTimeout), IsKind(err, ErrRequestTimeout), IsKind(err, ErrUpstreamUnavailable):
		return &StageError{Stage: stage, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &StageError{Stage: stage, Err: WrapError(ErrRequestTimeout, stage, err)}
	case errors.Is(err, context.Canceled):
		return &StageError{Stage: stage, Err: err}
	default:
		return &StageError{Stage: stage, Err: WrapError(ErrUpstreamUnavailable, stage, err)}
	}
}

// ErrorCode maps an error to its stable client-facing code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrInvalidInput):
		return CodeInvalidInput
	case IsKind(err, ErrTenantNotFound):
		return CodeNotFound
	case IsKind(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeRequestTimeout
	case IsKind(err, ErrStageTimeout):
		return CodeStageTimeout
	case IsKind(err, ErrUpstreamUnavailable), IsKind(err, ErrTemporary):
		return CodeUpstreamUnavailable
	default:
		return CodeInternal
	}
}

// FailedStage returns the stage recorded on err, if any.
func FailedStage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	var timeoutErr *StageTimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Stage
	}
	return ""
}
