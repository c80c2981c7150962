package migration

import (
	auditdomain "github.com/vitalsync/vitalsync/internal/audit/domain"
	cgmdomain "github.com/vitalsync/vitalsync/internal/cgm/domain"
	sleepdomain "github.com/vitalsync/vitalsync/internal/sleep/domain"
	telemetrydomain "github.com/vitalsync/vitalsync/internal/telemetry/domain"
	"gorm.io/gorm"
)

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&telemetrydomain.TelemetryRecord{},
		&telemetrydomain.DisplayRecord{},
		&cgmdomain.Connection{},
		&auditdomain.SyncAttempt{},
		&sleepdomain.SleepSummary{},
	)
}
