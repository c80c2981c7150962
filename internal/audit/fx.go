package audit

import (
	"github.com/vitalsync/vitalsync/internal/audit/repository"
	"github.com/vitalsync/vitalsync/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
