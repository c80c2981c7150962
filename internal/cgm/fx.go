package cgm

import (
	"context"

	"github.com/vitalsync/vitalsync/internal/cgm/poller"
	"github.com/vitalsync/vitalsync/internal/cgm/repository"
	"github.com/vitalsync/vitalsync/internal/cgm/service"
	"github.com/vitalsync/vitalsync/internal/cgm/vendors"
	"github.com/vitalsync/vitalsync/internal/cgm/vendors/dexcom"
	"github.com/vitalsync/vitalsync/internal/cgm/vendors/libreview"
	"go.uber.org/fx"
)

var Module = fx.Module("cgm",
	fx.Provide(repository.Provide),
	fx.Provide(NewVendorRegistry),
	fx.Provide(service.NewService),
	fx.Provide(poller.New),
	fx.Invoke(RegisterPoller),
)

func NewVendorRegistry() *vendors.Registry {
	return vendors.NewRegistry(
		dexcom.New(),
		libreview.New(),
	)
}

func RegisterPoller(lc fx.Lifecycle, p *poller.Poller) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go p.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
