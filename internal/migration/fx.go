package migration

import (
	"github.com/vitalsync/vitalsync/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// SQL migrations target postgres; sqlite test databases are
		// migrated with AutoMigrate inside the tests themselves.
		if cfg.DBType != "postgres" {
			return autoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
