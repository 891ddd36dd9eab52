package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
)

type flakyReader struct {
	failures int
	err      error
	calls    int
}

func (f *flakyReader) CellsForMonth(_ context.Context, month time.Time) ([]*model.Cell, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []*model.Cell{{ID: "c", Month: month}}, nil
}

func (f *flakyReader) CellsInBBox(ctx context.Context, month time.Time, _ model.BBox) ([]*model.Cell, error) {
	return f.CellsForMonth(ctx, month)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestRetrying_RecoversFromTransient(t *testing.T) {
	next := &flakyReader{failures: 2, err: errors.New("database is locked")}
	r := NewRetrying(next, fastRetry(), resilience.DefaultCircuitBreakerConfig())

	cells, err := r.CellsForMonth(context.Background(), jan)
	require.NoError(t, err)
	assert.Len(t, cells, 1)
	assert.Equal(t, 3, next.calls)
}

func TestRetrying_PermanentErrorNotRetried(t *testing.T) {
	next := &flakyReader{failures: 5, err: errors.New("no such table: cells")}
	r := NewRetrying(next, fastRetry(), resilience.DefaultCircuitBreakerConfig())

	_, err := r.CellsInBBox(context.Background(), jan, model.BBox{})
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, resilience.CircuitClosed, r.Breaker().State())
}

func TestRetrying_OpensCircuit(t *testing.T) {
	next := &flakyReader{failures: 100, err: errors.New("connection reset by peer")}
	r := NewRetrying(next, resilience.RetryConfig{MaxAttempts: 1}, resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})

	for i := 0; i < 2; i++ {
		_, err := r.CellsForMonth(context.Background(), jan)
		require.Error(t, err)
	}

	_, err := r.CellsForMonth(context.Background(), jan)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, next.calls)
}
