// Package velocity tracks per-entity transaction counts and summed amounts
// inside a rolling window. Reservations are made atomically at check time so
// two concurrent requests cannot both pass a limit only one should have
// passed; a reservation for an attempt that never moved money is released.
package velocity

import (
	"context"
	"time"
)

// Limits are the ceilings applied to one scope (customer or source IP).
type Limits struct {
	Window          time.Duration
	MaxTransactions int64
	MaxAmount       int64
}

// State is the tally after a reservation attempt.
type State struct {
	Count         int64
	Amount        int64
	LimitExceeded bool
	// ResetTime is when the oldest counted entry leaves the window.
	ResetTime time.Time
}

// Store is the velocity backing store. Implementations must apply Reserve as
// a single atomic read-modify-write.
type Store interface {
	// Reserve prunes expired entries, and admits the attempt only when
	// both ceilings hold after counting it. The returned state reflects
	// the window after the call either way.
	Reserve(ctx context.Context, key, entryID string, amount int64, limits Limits) (State, error)

	// Release removes a previously reserved entry, returning its quota.
	Release(ctx context.Context, key, entryID string) error
}
