package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/core/tenant"
)

type FallbackResult[T any] struct {
	Result       T
	UsedFallback bool
}

type opOutcome[T any] struct {
	value T
	err   error
}

// ExecuteWithTimeout races op against a timer. On expiry the op context is
// cancelled and a *domain.StageTimeoutError is returned. Expiry of the parent
// context is reported as a request timeout instead.
func ExecuteWithTimeout[T any](ctx context.Context, timeout time.Duration, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, parentContextError(label, err)
	}
	if timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan opOutcome[T], 1)
	go func() {
		value, err := op(opCtx)
		done <- opOutcome[T]{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return zero, parentContextError(label, ctx.Err())
		}
		return out.value, out.err
	case <-timer.C:
		cancel()
		return zero, &domain.StageTimeoutError{Stage: label, Timeout: timeout}
	case <-ctx.Done():
		cancel()
		return zero, parentContextError(label, ctx.Err())
	}
}

// ExecuteWithFallback runs fallback only when primary times out. Other errors
// from primary are returned unchanged.
func ExecuteWithFallback[T any](
	ctx context.Context,
	timeout time.Duration,
	label string,
	primary func(context.Context) (T, error),
	fallback func(context.Context) (T, error),
) (FallbackResult[T], error) {
	value, err := ExecuteWithTimeout(ctx, timeout, label, primary)
	if err == nil {
		return FallbackResult[T]{Result: value}, nil
	}
	if !errors.Is(err, domain.ErrStageTimeout) {
		return FallbackResult[T]{}, err
	}

	value, err = fallback(ctx)
	if err != nil {
		return FallbackResult[T]{}, err
	}
	return FallbackResult[T]{Result: value, UsedFallback: true}, nil
}

func parentContextError(label string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrRequestTimeout, label, err)
	}
	return err
}

// TimeoutCoordinator resolves per-tenant timeout budgets.
type TimeoutCoordinator struct {
	configs *tenant.Store[domain.TimeoutConfig]
}

func NewTimeoutCoordinator(configs *tenant.Store[domain.TimeoutConfig]) *TimeoutCoordinator {
	if configs == nil {
		configs = tenant.NewStore(domain.DefaultTimeoutConfig())
	}
	return &TimeoutCoordinator{configs: configs}
}

// For returns the tenant's timeouts, or the defaults for unknown tenants.
func (c *TimeoutCoordinator) For(tenantID string) domain.TimeoutConfig {
	return c.configs.Resolve(tenantID).Normalize()
}
