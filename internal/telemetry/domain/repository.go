package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository owns reads and writes against the archive and display tables.
// Methods take the gorm handle explicitly so callers can scope them to a
// batch transaction.
type Repository interface {
	// UpsertBatch inserts records into the archive; on conflict by
	// (user, sample identity) it updates value, unit, timestamps,
	// provenance and metadata but never the identity itself.
	UpsertBatch(ctx context.Context, db *gorm.DB, records []*TelemetryRecord) error

	// ClearDisplay removes all display rows for the given (user, data type)
	// pairs so the window reflects only the latest sync's view.
	ClearDisplay(ctx context.Context, db *gorm.DB, userID snowflake.ID, types []DataType) error

	InsertDisplay(ctx context.Context, db *gorm.DB, records []*DisplayRecord) error

	// FindByType returns all archive records of one type for a user,
	// ordered by start timestamp.
	FindByType(ctx context.Context, db *gorm.DB, userID snowflake.ID, dataType DataType) ([]*TelemetryRecord, error)

	// CleanupDuplicates removes legacy archive rows sharing a sample
	// identity, keeping the newest row of each group.
	CleanupDuplicates(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}
