package store

import (
	"context"
	"time"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
)

// Retrying wraps a CellReader with retry on transient errors and a circuit
// breaker that fails fast once the store is persistently down.
type Retrying struct {
	next    CellReader
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewRetrying wraps next. Only transient errors trip the breaker.
func NewRetrying(next CellReader, retry resilience.RetryConfig, breaker resilience.CircuitBreakerConfig) *Retrying {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("store.cells", "read")
	}
	if breaker.ShouldTrip == nil {
		breaker.ShouldTrip = resilience.IsTransient
	}
	if breaker.OnStateChange == nil {
		breaker.OnStateChange = resilience.StateLogger("store.cells")
	}
	return &Retrying{
		next:    next,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breaker),
	}
}

func (r *Retrying) CellsForMonth(ctx context.Context, month time.Time) ([]*model.Cell, error) {
	return r.do(ctx, func(ctx context.Context) ([]*model.Cell, error) {
		return r.next.CellsForMonth(ctx, month)
	})
}

func (r *Retrying) CellsInBBox(ctx context.Context, month time.Time, bbox model.BBox) ([]*model.Cell, error) {
	return r.do(ctx, func(ctx context.Context) ([]*model.Cell, error) {
		return r.next.CellsInBBox(ctx, month, bbox)
	})
}

// Breaker exposes the breaker state for health reporting.
func (r *Retrying) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

func (r *Retrying) do(ctx context.Context, fn func(context.Context) ([]*model.Cell, error)) ([]*model.Cell, error) {
	return resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) ([]*model.Cell, error) {
		return resilience.DoVal(ctx, r.retry, fn)
	})
}
