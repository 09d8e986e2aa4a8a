package audit

import (
	"go.uber.org/fx"

	"github.com/svarade/payoutcore/internal/audit/repository"
	"github.com/svarade/payoutcore/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
