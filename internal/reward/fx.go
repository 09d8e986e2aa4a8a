package reward

import (
	"go.uber.org/fx"

	"github.com/svarade/payoutcore/internal/reward/service"
)

var Module = fx.Module("reward",
	fx.Provide(service.NewService),
)
