package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/vitalsync/vitalsync/internal/telemetry/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// upsertColumns are the fields refreshed when the same sample identity is
// delivered again. The identity and row id are never rewritten.
var upsertColumns = []string{
	"data_type",
	"sub_type",
	"value_num",
	"value_text",
	"unit",
	"start_ts",
	"end_ts",
	"source_name",
	"device_name",
	"metadata",
	"updated_at",
}

func (r *repo) UpsertBatch(ctx context.Context, db *gorm.DB, records []*domain.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "sample_identity"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(records).Error
}

func (r *repo) ClearDisplay(ctx context.Context, db *gorm.DB, userID snowflake.ID, types []domain.DataType) error {
	if len(types) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("user_id = ? AND data_type IN ?", userID, types).
		Delete(&domain.DisplayRecord{}).Error
}

func (r *repo) InsertDisplay(ctx context.Context, db *gorm.DB, records []*domain.DisplayRecord) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(records).Error
}

func (r *repo) FindByType(ctx context.Context, db *gorm.DB, userID snowflake.ID, dataType domain.DataType) ([]*domain.TelemetryRecord, error) {
	var records []*domain.TelemetryRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND data_type = ?", userID, dataType).
		Order("start_ts asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) CleanupDuplicates(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM health_data_archive
		 WHERE user_id = ?
		   AND id NOT IN (
			SELECT MAX(id) FROM health_data_archive
			WHERE user_id = ?
			GROUP BY sample_identity
		 )`,
		userID, userID,
	)
	return result.RowsAffected, result.Error
}
