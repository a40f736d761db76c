package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: time.Hour, CallTimeout: time.Second})

	failing := func(ctx context.Context) error { return errors.New("boom") }

	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: time.Millisecond, CallTimeout: time.Second})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(2 * time.Millisecond)

	ok := func(ctx context.Context) error { return nil }
	_ = cb.Execute(context.Background(), ok)
	assert.Equal(t, StateHalfOpen, cb.State())
	_ = cb.Execute(context.Background(), ok)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Hour, CallTimeout: time.Millisecond})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestFactory_MemoizesBreakersByName(t *testing.T) {
	f := NewFactory(DefaultBreakerConfig())
	a := f.Get("land-authority")
	b := f.Get("land-authority")
	assert.Same(t, a, b)
}
