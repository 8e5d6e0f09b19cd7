package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/ports"
)

const auditPublishTimeout = 2 * time.Second

// AnswerUseCase sequences retrieval, the guardrail decision and generation into
// a synchronous response or an ordered event stream.
type AnswerUseCase struct {
	retriever ports.Retriever
	generator ports.AnswerGenerator
	timeouts  *TimeoutCoordinator
	audit     ports.AuditSink
	observer  ports.PipelineObserver
	logger    *slog.Logger
	newID     func() string
}

func NewAnswerUseCase(
	retriever ports.Retriever,
	generator ports.AnswerGenerator,
	timeouts *TimeoutCoordinator,
	audit ports.AuditSink,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) *AnswerUseCase {
	if timeouts == nil {
		timeouts = NewTimeoutCoordinator(nil)
	}
	if observer == nil {
		observer = ports.NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		retriever: retriever,
		generator: generator,
		timeouts:  timeouts,
		audit:     audit,
		observer:  observer,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.ResponseCompleted, error) {
	req = uc.withRequestID(req)
	ctx, cancel := uc.withOverallDeadline(ctx, req.TenantID)
	defer cancel()

	outcome, err := uc.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	if !outcome.Decision.IsAnswerable {
		resp, err := uc.buildResponse(req, outcome, "")
		if err != nil {
			return nil, err
		}
		return &resp, nil
	}

	var answer strings.Builder
	err = uc.generate(ctx, req, outcome, func(text string) bool {
		answer.WriteString(text)
		return true
	})
	if err != nil {
		return nil, err
	}
	resp, err := uc.buildResponse(req, outcome, answer.String())
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream runs the pipeline and emits events on the returned channel, which is
// closed when the stream ends. Cancelling ctx stops generation and emission.
func (uc *AnswerUseCase) Stream(ctx context.Context, req domain.AnswerRequest) <-chan domain.StreamEvent {
	events := make(chan domain.StreamEvent, 8)
	req = uc.withRequestID(req)
	go func() {
		defer close(events)
		uc.runStream(ctx, req, newStreamEmitter(ctx, events))
	}()
	return events
}

func (uc *AnswerUseCase) runStream(ctx context.Context, req domain.AnswerRequest, em *streamEmitter) {
	if em.emit(domain.EventConnectionOpened, domain.ConnectionOpened{
		RequestID: req.RequestID,
		TenantID:  req.TenantID,
		Timestamp: time.Now().UTC(),
	}) != nil {
		return
	}

	// ctx belongs to the consumer; workCtx also carries the overall deadline.
	workCtx, cancel := uc.withOverallDeadline(ctx, req.TenantID)
	defer cancel()

	outcome, err := uc.retrieve(workCtx, req)
	if err != nil {
		em.fail(req.RequestID, err)
		return
	}

	var answer strings.Builder
	if outcome.Decision.IsAnswerable {
		err = uc.generate(workCtx, req, outcome, func(text string) bool {
			answer.WriteString(text)
			return em.emit(domain.EventChunk, domain.Chunk{Text: text, Accumulated: answer.String()}) == nil
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			em.fail(req.RequestID, err)
			return
		}
		if em.emit(domain.EventCitations, domain.Citations{Citations: domain.CitationsFor(outcome.Results)}) != nil {
			return
		}
		if em.emit(domain.EventMetadata, domain.Metadata{
			Intent:         outcome.Intent.Intent,
			FusionStrategy: outcome.Intent.FusionStrategy,
			ResultCount:    len(outcome.Results),
			Confidence:     outcome.Decision.Score.Confidence,
		}) != nil {
			return
		}
	}

	resp, err := uc.buildResponse(req, outcome, answer.String())
	if err != nil {
		em.fail(req.RequestID, err)
		return
	}
	if em.emit(domain.EventResponseCompleted, resp) != nil {
		return
	}
	_ = em.emit(domain.EventDone, domain.Done{RequestID: req.RequestID})
}

// withOverallDeadline bounds retrieval and generation together by the
// tenant's overall budget.
func (uc *AnswerUseCase) withOverallDeadline(ctx context.Context, tenantID string) (context.Context, context.CancelFunc) {
	overall := uc.timeouts.For(tenantID).Overall
	if overall <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, overall)
}

func (uc *AnswerUseCase) retrieve(ctx context.Context, req domain.AnswerRequest) (*domain.RetrievalOutcome, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("query is required"))
	}
	outcome, err := uc.retriever.Retrieve(ctx, req.Retrieval())
	if err != nil {
		uc.logger.ErrorContext(ctx, "retrieval_failed",
			slog.String("request_id", req.RequestID),
			slog.String("tenant_id", req.TenantID),
			slog.String("stage", domain.FailedStage(err)),
			slog.String("code", domain.ErrorCode(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	uc.publishAudit(ctx, outcome.Decision.AuditTrail)
	return outcome, nil
}

// generate streams model output into onChunk under the tenant's LLM budget.
// onChunk returning false stops generation.
func (uc *AnswerUseCase) generate(ctx context.Context, req domain.AnswerRequest, outcome *domain.RetrievalOutcome, onChunk func(string) bool) error {
	budget := uc.timeouts.For(req.TenantID).LLM
	genCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	started := time.Now()
	err := uc.consumeGeneration(ctx, genCtx, req, outcome, budget, onChunk)
	outcomeLabel := "ok"
	switch {
	case errors.Is(err, domain.ErrStageTimeout):
		outcomeLabel = "timeout"
	case err != nil:
		outcomeLabel = "error"
	}
	uc.observer.ObserveStage(domain.StageGeneration, outcomeLabel, time.Since(started))
	if err != nil && ctx.Err() == nil {
		uc.logger.ErrorContext(ctx, "generation_failed",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func (uc *AnswerUseCase) consumeGeneration(
	ctx, genCtx context.Context,
	req domain.AnswerRequest,
	outcome *domain.RetrievalOutcome,
	budget time.Duration,
	onChunk func(string) bool,
) error {
	timedOut := func() error {
		if ctx.Err() != nil {
			return parentContextError(domain.StageGeneration, ctx.Err())
		}
		return domain.NewStageError(domain.StageGeneration, &domain.StageTimeoutError{Stage: domain.StageGeneration, Timeout: budget})
	}

	chunks, err := uc.generator.GenerateStream(genCtx, req.Query, outcome.Results)
	if err != nil {
		if genCtx.Err() != nil {
			return timedOut()
		}
		return domain.NewStageError(domain.StageGeneration, err)
	}

	for {
		select {
		case <-genCtx.Done():
			return timedOut()
		case chunk, ok := <-chunks:
			if !ok {
				if genCtx.Err() != nil {
					return timedOut()
				}
				return nil
			}
			if chunk.Err != nil {
				if genCtx.Err() != nil {
					return timedOut()
				}
				return domain.NewStageError(domain.StageGeneration, chunk.Err)
			}
			if chunk.Text == "" {
				continue
			}
			if !onChunk(chunk.Text) {
				return context.Cause(ctx)
			}
		}
	}
}

func (uc *AnswerUseCase) buildResponse(req domain.AnswerRequest, outcome *domain.RetrievalOutcome, answer string) (domain.ResponseCompleted, error) {
	b := domain.NewResponseBuilder(req.RequestID).WithDecision(outcome.Decision)
	if outcome.Decision.IsAnswerable {
		b.WithAnswer(answer).WithResults(outcome.Results)
	}
	if req.IncludeMetrics {
		b.WithMetrics(outcome.Metrics)
	}
	return b.Build()
}

func (uc *AnswerUseCase) publishAudit(ctx context.Context, trail domain.AuditTrail) {
	if uc.audit == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPublishTimeout)
	defer cancel()
	if err := uc.audit.PublishDecision(pubCtx, trail); err != nil {
		uc.logger.WarnContext(ctx, "audit_publish_failed",
			slog.String("audit_id", trail.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (uc *AnswerUseCase) withRequestID(req domain.AnswerRequest) domain.AnswerRequest {
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = uc.newID()
	}
	return req
}
