package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/vitalsync/vitalsync/internal/audit"
	"github.com/vitalsync/vitalsync/internal/cgm"
	"github.com/vitalsync/vitalsync/internal/clock"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logger"
	"github.com/vitalsync/vitalsync/internal/migration"
	"github.com/vitalsync/vitalsync/internal/sleep"
	syncmodule "github.com/vitalsync/vitalsync/internal/sync"
	"github.com/vitalsync/vitalsync/internal/telemetry"
	"github.com/vitalsync/vitalsync/internal/vault"
	"github.com/vitalsync/vitalsync/pkg/db"
	pkgtelemetry "github.com/vitalsync/vitalsync/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		pkgtelemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		vault.Module,

		// Functional domains
		telemetry.Module,
		audit.Module,
		sleep.Module,
		syncmodule.Module,
		cgm.Module,
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
