package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tripped(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		cb.RecordResult(false)
	}
	require.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "test", cb.Name())
	assert.True(t, cb.allowRequest(), "closed circuit admits requests")
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	assert.Equal(t, StateClosed, cb.GetState(), "two failures keep the circuit closed")

	cb.RecordResult(false)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.allowRequest(), "open circuit rejects requests")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	assert.Equal(t, StateClosed, cb.GetState(), "non-consecutive failures keep the circuit closed")
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)
	tripped(t, cb, 3)

	time.Sleep(150 * time.Millisecond)

	assert.True(t, cb.allowRequest(), "a trial request is admitted after the reset timeout")
	state, _, _, _ := cb.GetStats()
	assert.Equal(t, StateHalfOpen, state)
}

func TestCircuitBreaker_HalfOpenLimitsTrialRequests(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond, WithHalfOpenMax(2))
	tripped(t, cb, 1)

	time.Sleep(80 * time.Millisecond)

	require.True(t, cb.allowRequest())
	require.True(t, cb.allowRequest())
	assert.False(t, cb.allowRequest(), "third trial is rejected while two are outstanding")
}

func TestCircuitBreaker_HalfOpenMaxIgnoresNonPositive(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond, WithHalfOpenMax(0))
	tripped(t, cb, 1)

	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, cb.allowRequest(), "trial %d falls under the default limit", i+1)
	}
	assert.False(t, cb.allowRequest())
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)
	tripped(t, cb, 3)

	time.Sleep(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Call(func() error { return nil }), "trial call %d", i+1)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)
	tripped(t, cb, 3)

	time.Sleep(150 * time.Millisecond)

	err := cb.Call(func() error { return errors.New("still down") })
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen, "the trial call runs")
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_Call(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	assert.NoError(t, cb.Call(func() error { return nil }))
	assert.EqualError(t, cb.Call(func() error { return errors.New("test error") }), "test error")
}

func TestCircuitBreaker_CallOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 1*time.Second)
	tripped(t, cb, 1)

	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "fn does not run while the circuit is open")
}

func TestCircuitBreaker_FailureClassifier(t *testing.T) {
	clientErr := errors.New("bad request")
	cb := NewCircuitBreaker("test", 1, 1*time.Second, WithFailureClassifier(func(err error) bool {
		return err != nil && !errors.Is(err, clientErr)
	}))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Call(func() error { return clientErr }), clientErr)
	}
	assert.Equal(t, StateClosed, cb.GetState(), "ignored errors leave the circuit closed")

	_ = cb.Call(func() error { return errors.New("backend down") })
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	cb.RecordResult(true)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requestCount, failureCount, failureRate := cb.GetStats()
	assert.Equal(t, StateClosed, state)
	assert.EqualValues(t, 3, requestCount)
	assert.EqualValues(t, 1, failureCount)
	assert.InDelta(t, 33.33, failureRate, 0.01)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)
	tripped(t, cb, 3)

	cb.Reset()

	state, requestCount, failureCount, _ := cb.GetStats()
	assert.Equal(t, StateClosed, state)
	assert.Zero(t, requestCount)
	assert.Zero(t, failureCount)
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		CircuitState(10): "unknown",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
