package sleep

import (
	"github.com/vitalsync/vitalsync/internal/sleep/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sleep.service",
	fx.Provide(service.NewService),
)
