package sync

import (
	"github.com/vitalsync/vitalsync/internal/sync/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sync",
	fx.Provide(service.NewService),
)
