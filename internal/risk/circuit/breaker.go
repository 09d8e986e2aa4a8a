// Package circuit implements the per-rail circuit breaker. The breaker is the
// one piece of mutable state shared by every concurrent payout attempt on a
// rail, so all transitions happen under a single lock.
package circuit

import (
	"sync"
	"time"

	"github.com/svarade/payoutcore/internal/clock"
	riskdomain "github.com/svarade/payoutcore/internal/risk/domain"
)

// Settings are the breaker tuning knobs, sourced from the payout policy.
type Settings struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
}

// Transition describes a state change, reported so the caller can audit it.
type Transition struct {
	Rail string
	From riskdomain.CircuitState
	To   riskdomain.CircuitState
	At   time.Time
}

type railState struct {
	state         riskdomain.CircuitState
	failures      []time.Time
	openedAt      time.Time
	probeInFlight bool
}

// Breaker tracks circuit state for every rail.
type Breaker struct {
	mu       sync.Mutex
	clock    clock.Clock
	settings func() Settings
	rails    map[string]*railState
}

// New builds a breaker. settings is called on every decision so policy hot
// reloads take effect without restart.
func New(clk clock.Clock, settings func() Settings) *Breaker {
	return &Breaker{
		clock:    clk,
		settings: settings,
		rails:    map[string]*railState{},
	}
}

// Allow reports whether an attempt on the rail may proceed. When the circuit
// is open the returned reset time is when the cooldown elapses. In half-open
// state exactly one probe is admitted; concurrent attempts are rejected until
// the probe resolves.
func (b *Breaker) Allow(rail string) (bool, riskdomain.CircuitState, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	cfg := b.settings()
	rs := b.rail(rail)

	switch rs.state {
	case riskdomain.CircuitClosed:
		return true, riskdomain.CircuitClosed, time.Time{}
	case riskdomain.CircuitOpen:
		resetAt := rs.openedAt.Add(cfg.Cooldown)
		if now.Before(resetAt) {
			return false, riskdomain.CircuitOpen, resetAt
		}
		rs.state = riskdomain.CircuitHalfOpen
		rs.probeInFlight = true
		return true, riskdomain.CircuitHalfOpen, time.Time{}
	case riskdomain.CircuitHalfOpen:
		if rs.probeInFlight {
			return false, riskdomain.CircuitHalfOpen, rs.openedAt.Add(cfg.Cooldown)
		}
		rs.probeInFlight = true
		return true, riskdomain.CircuitHalfOpen, time.Time{}
	default:
		return true, rs.state, time.Time{}
	}
}

// RecordFailure counts a rail-level failure and returns the transition it
// caused, if any.
func (b *Breaker) RecordFailure(rail string) *Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	cfg := b.settings()
	rs := b.rail(rail)

	switch rs.state {
	case riskdomain.CircuitHalfOpen:
		// Failed probe: back to open, cooldown restarts.
		rs.state = riskdomain.CircuitOpen
		rs.openedAt = now
		rs.probeInFlight = false
		rs.failures = nil
		return &Transition{Rail: rail, From: riskdomain.CircuitHalfOpen, To: riskdomain.CircuitOpen, At: now}
	case riskdomain.CircuitOpen:
		return nil
	}

	cutoff := now.Add(-cfg.FailureWindow)
	kept := rs.failures[:0]
	for _, t := range rs.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rs.failures = append(kept, now)

	if len(rs.failures) >= cfg.FailureThreshold {
		rs.state = riskdomain.CircuitOpen
		rs.openedAt = now
		rs.failures = nil
		return &Transition{Rail: rail, From: riskdomain.CircuitClosed, To: riskdomain.CircuitOpen, At: now}
	}
	return nil
}

// RecordSuccess resets the rail after a successful call, closing the circuit
// when the call was a half-open probe.
func (b *Breaker) RecordSuccess(rail string) *Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	rs := b.rail(rail)

	if rs.state == riskdomain.CircuitHalfOpen {
		rs.state = riskdomain.CircuitClosed
		rs.failures = nil
		rs.probeInFlight = false
		return &Transition{Rail: rail, From: riskdomain.CircuitHalfOpen, To: riskdomain.CircuitClosed, At: now}
	}

	rs.failures = nil
	return nil
}

// CancelProbe returns the half-open probe slot without recording an outcome.
// Callers use it when an admitted probe never reaches the rail, so the next
// attempt can take the slot instead of the rail staying wedged.
func (b *Breaker) CancelProbe(rail string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.rail(rail)
	if rs.state == riskdomain.CircuitHalfOpen {
		rs.probeInFlight = false
	}
}

// State returns the rail's current state without admitting an attempt.
func (b *Breaker) State(rail string) riskdomain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rail(rail).state
}

func (b *Breaker) rail(rail string) *railState {
	rs, ok := b.rails[rail]
	if !ok {
		rs = &railState{state: riskdomain.CircuitClosed}
		b.rails[rail] = rs
	}
	return rs
}
