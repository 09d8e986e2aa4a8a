package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/migration"
	"github.com/svarade/payoutcore/internal/observability"
	"github.com/svarade/payoutcore/internal/server"
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

		// server.Module pulls in the domain modules it serves.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
