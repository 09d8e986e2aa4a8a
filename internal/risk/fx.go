package risk

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/risk/circuit"
	"github.com/svarade/payoutcore/internal/risk/fraud"
	"github.com/svarade/payoutcore/internal/risk/service"
	"github.com/svarade/payoutcore/internal/risk/velocity"
)

var Module = fx.Module("risk",
	fx.Provide(
		fraud.NewScorer,
		NewBreaker,
		NewVelocityStore,
		service.NewService,
	),
)

// NewBreaker wires the circuit breaker to the live policy so threshold and
// cooldown changes apply without restart.
func NewBreaker(clk clock.Clock, holder *config.PolicyHolder) *circuit.Breaker {
	return circuit.New(clk, func() circuit.Settings {
		p := holder.Get().Circuit
		return circuit.Settings{
			FailureThreshold: p.FailureThreshold,
			FailureWindow:    p.FailureWindow,
			Cooldown:         p.Cooldown,
		}
	})
}

// NewVelocityStore prefers redis so limits hold across replicas; without a
// configured client it degrades to the in-process store.
func NewVelocityStore(client *redis.Client, clk clock.Clock) velocity.Store {
	if client == nil {
		return velocity.NewMemoryStore(clk)
	}
	return velocity.NewRedisStore(client, clk)
}
