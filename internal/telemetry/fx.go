package telemetry

import (
	"github.com/bwmarrin/snowflake"
	"github.com/vitalsync/vitalsync/internal/telemetry/normalize"
	"github.com/vitalsync/vitalsync/internal/telemetry/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("telemetry",
	fx.Provide(repository.Provide),
	fx.Provide(func(genID *snowflake.Node) *normalize.Normalizer {
		return normalize.New(genID)
	}),
)
