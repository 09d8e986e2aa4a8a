package velocity

import (
	"context"
	"sync"
	"time"

	"github.com/svarade/payoutcore/internal/clock"
)

type entry struct {
	id     string
	amount int64
	at     time.Time
}

// MemoryStore is the in-process store used by tests and single-node
// deployments without redis.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	windows map[string][]entry
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clk,
		windows: map[string][]entry{},
	}
}

func (s *MemoryStore) Reserve(_ context.Context, key, entryID string, amount int64, limits Limits) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cutoff := now.Add(-limits.Window)

	kept := s.windows[key][:0]
	var count, sum int64
	oldest := now
	for _, e := range s.windows[key] {
		if !e.at.After(cutoff) {
			continue
		}
		kept = append(kept, e)
		count++
		sum += e.amount
		if e.at.Before(oldest) {
			oldest = e.at
		}
	}
	s.windows[key] = kept

	if count+1 > limits.MaxTransactions || sum+amount > limits.MaxAmount {
		return State{
			Count:         count,
			Amount:        sum,
			LimitExceeded: true,
			ResetTime:     oldest.Add(limits.Window),
		}, nil
	}

	if count == 0 {
		oldest = now
	}
	s.windows[key] = append(s.windows[key], entry{id: entryID, amount: amount, at: now})
	return State{
		Count:     count + 1,
		Amount:    sum + amount,
		ResetTime: oldest.Add(limits.Window),
	}, nil
}

func (s *MemoryStore) Release(_ context.Context, key, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.windows[key]
	for i, e := range entries {
		if e.id == entryID {
			s.windows[key] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}
