package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svarade/payoutcore/internal/clock"
	riskdomain "github.com/svarade/payoutcore/internal/risk/domain"
)

func newTestBreaker(clk clock.Clock) *Breaker {
	return New(clk, func() Settings {
		return Settings{
			FailureThreshold: 3,
			FailureWindow:    5 * time.Minute,
			Cooldown:         time.Minute,
		}
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	assert.Nil(t, b.RecordFailure("swish"))
	assert.Nil(t, b.RecordFailure("swish"))
	transition := b.RecordFailure("swish")
	require.NotNil(t, transition)
	assert.Equal(t, riskdomain.CircuitOpen, transition.To)

	allowed, state, resetAt := b.Allow("swish")
	assert.False(t, allowed)
	assert.Equal(t, riskdomain.CircuitOpen, state)
	assert.Equal(t, clk.Now().Add(time.Minute), resetAt)

	// Other rails are untouched.
	allowed, state, _ = b.Allow("bankgiro")
	assert.True(t, allowed)
	assert.Equal(t, riskdomain.CircuitClosed, state)
}

func TestBreakerFailureWindowPrunes(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	assert.Nil(t, b.RecordFailure("swish"))
	assert.Nil(t, b.RecordFailure("swish"))
	clk.Advance(6 * time.Minute)

	// The two earlier failures fell out of the window, so this is
	// failure one of a fresh count.
	assert.Nil(t, b.RecordFailure("swish"))
	assert.Equal(t, riskdomain.CircuitClosed, b.State("swish"))
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	for i := 0; i < 3; i++ {
		b.RecordFailure("swish")
	}
	clk.Advance(time.Minute)

	allowed, state, _ := b.Allow("swish")
	assert.True(t, allowed)
	assert.Equal(t, riskdomain.CircuitHalfOpen, state)

	// While the probe is in flight everyone else waits.
	allowed, state, _ = b.Allow("swish")
	assert.False(t, allowed)
	assert.Equal(t, riskdomain.CircuitHalfOpen, state)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	for i := 0; i < 3; i++ {
		b.RecordFailure("swish")
	}
	clk.Advance(time.Minute)
	allowed, _, _ := b.Allow("swish")
	require.True(t, allowed)

	transition := b.RecordSuccess("swish")
	require.NotNil(t, transition)
	assert.Equal(t, riskdomain.CircuitHalfOpen, transition.From)
	assert.Equal(t, riskdomain.CircuitClosed, transition.To)

	allowed, state, _ := b.Allow("swish")
	assert.True(t, allowed)
	assert.Equal(t, riskdomain.CircuitClosed, state)
}

func TestBreakerCancelProbeFreesSlot(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	for i := 0; i < 3; i++ {
		b.RecordFailure("swish")
	}
	clk.Advance(time.Minute)
	allowed, _, _ := b.Allow("swish")
	require.True(t, allowed)

	// The admitted attempt never reached the rail; without the slot
	// coming back the rail would reject everything indefinitely.
	b.CancelProbe("swish")

	allowed, state, _ := b.Allow("swish")
	assert.True(t, allowed)
	assert.Equal(t, riskdomain.CircuitHalfOpen, state)

	// Cancelling records no outcome, so the state is unchanged.
	assert.Equal(t, riskdomain.CircuitHalfOpen, b.State("swish"))
}

func TestBreakerCancelProbeOutsideHalfOpenIsNoop(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	b.CancelProbe("swish")
	allowed, state, _ := b.Allow("swish")
	assert.True(t, allowed)
	assert.Equal(t, riskdomain.CircuitClosed, state)
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	b := newTestBreaker(clk)

	for i := 0; i < 3; i++ {
		b.RecordFailure("swish")
	}
	clk.Advance(time.Minute)
	allowed, _, _ := b.Allow("swish")
	require.True(t, allowed)

	transition := b.RecordFailure("swish")
	require.NotNil(t, transition)
	assert.Equal(t, riskdomain.CircuitOpen, transition.To)

	// Cooldown restarted from the probe failure.
	clk.Advance(30 * time.Second)
	allowed, _, resetAt := b.Allow("swish")
	assert.False(t, allowed)
	assert.Equal(t, clk.Now().Add(30*time.Second), resetAt)

	clk.Advance(30 * time.Second)
	allowed, state, _ := b.Allow("swish")
	assert.True(t, allowed)
	assert.Equal(t, riskdomain.CircuitHalfOpen, state)
}
