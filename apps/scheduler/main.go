package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/svarade/payoutcore/internal/audit"
	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/migration"
	"github.com/svarade/payoutcore/internal/observability"
	"github.com/svarade/payoutcore/internal/payout"
	"github.com/svarade/payoutcore/internal/ratelimit"
	"github.com/svarade/payoutcore/internal/reconciliation"
	"github.com/svarade/payoutcore/internal/risk"
	"github.com/svarade/payoutcore/internal/scheduler"
	"github.com/svarade/payoutcore/pkg/db"
	"github.com/svarade/payoutcore/pkg/redis"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redis.Module,
		clock.Module,
		migration.Module,

		// Domain services the scheduler drives.
		scheduler.Module,
		payout.Module,
		reconciliation.Module,
		audit.Module,
		risk.Module,
		ratelimit.Module,

		// No server module: this binary only pumps retries and sweeps.
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
