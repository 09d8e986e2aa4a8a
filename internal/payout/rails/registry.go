// Package rails holds the per-channel provider integrations and the registry
// the router resolves them through.
package rails

import (
	"github.com/svarade/payoutcore/internal/payout/domain"
)

type Registry struct {
	adapters map[domain.Rail]domain.Adapter
}

func NewRegistry(adapters ...domain.Adapter) *Registry {
	registry := &Registry{adapters: map[domain.Rail]domain.Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		registry.adapters[adapter.Rail()] = adapter
	}
	return registry
}

func (r *Registry) Adapter(rail domain.Rail) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrRailNotConfigured
	}
	adapter, ok := r.adapters[rail]
	if !ok {
		return nil, domain.ErrRailNotConfigured
	}
	return adapter, nil
}

func (r *Registry) Rails() []domain.Rail {
	out := make([]domain.Rail, 0, len(r.adapters))
	for rail := range r.adapters {
		out = append(out, rail)
	}
	return out
}
