package reconciliation

import (
	"go.uber.org/fx"

	"github.com/svarade/payoutcore/internal/reconciliation/repository"
	"github.com/svarade/payoutcore/internal/reconciliation/service"
)

var Module = fx.Module("reconciliation",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
