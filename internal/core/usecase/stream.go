package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

type streamState int

const (
	stateIdle streamState = iota
	stateOpened
	stateStreaming
	stateCitations
	stateMetadata
	stateCompleted
	stateErrored
	stateDone
)

// transitions lists the states each event may be emitted from.
var transitions = map[domain.StreamEventKind]struct {
	from []streamState
	to   streamState
}{
	domain.EventConnectionOpened:  {from: []streamState{stateIdle}, to: stateOpened},
	domain.EventChunk:             {from: []streamState{stateOpened, stateStreaming}, to: stateStreaming},
	domain.EventCitations:         {from: []streamState{stateOpened, stateStreaming}, to: stateCitations},
	domain.EventMetadata:          {from: []streamState{stateOpened, stateStreaming, stateCitations}, to: stateMetadata},
	domain.EventResponseCompleted: {from: []streamState{stateOpened, stateStreaming, stateCitations, stateMetadata}, to: stateCompleted},
	domain.EventError:             {from: []streamState{stateIdle, stateOpened, stateStreaming, stateCitations, stateMetadata}, to: stateErrored},
	domain.EventDone:              {from: []streamState{stateIdle, stateOpened, stateStreaming, stateCitations, stateMetadata, stateCompleted, stateErrored}, to: stateDone},
}

// streamEmitter enforces event ordering for one stream. It stops sending as
// soon as the consumer context is cancelled.
type streamEmitter struct {
	ctx   context.Context
	out   chan<- domain.StreamEvent
	state streamState
}

func newStreamEmitter(ctx context.Context, out chan<- domain.StreamEvent) *streamEmitter {
	return &streamEmitter{ctx: ctx, out: out, state: stateIdle}
}

func (e *streamEmitter) emit(kind domain.StreamEventKind, payload any) error {
	rule, ok := transitions[kind]
	if !ok {
		return fmt.Errorf("unknown stream event %q", kind)
	}
	allowed := false
	for _, from := range rule.from {
		if e.state == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("stream event %q not allowed in state %d", kind, e.state)
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}

	select {
	case <-e.ctx.Done():
		return e.ctx.Err()
	case e.out <- domain.StreamEvent{Kind: kind, Payload: payload}:
		e.state = rule.to
		return nil
	}
}

// fail emits a generic error event followed by done.
func (e *streamEmitter) fail(requestID string, err error) {
	if e.emit(domain.EventError, domain.StreamError{Code: domain.ErrorCode(err), Message: domain.GenericStreamErrorMessage}) != nil {
		return
	}
	_ = e.emit(domain.EventDone, domain.Done{RequestID: requestID})
}
