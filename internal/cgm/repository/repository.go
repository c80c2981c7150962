package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/vitalsync/vitalsync/internal/cgm/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert inserts the connection or, when one already exists for the
// (user, vendor) pair, refreshes its credentials and state in place.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, conn *domain.Connection) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "vendor"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"region",
				"username",
				"sealed_password",
				"account_id",
				"status",
				"active",
				"failure_count",
				"poll_interval_seconds",
				"last_error",
				"updated_at",
			}),
		}).
		Create(conn).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, conn *domain.Connection) error {
	return db.WithContext(ctx).Save(conn).Error
}

func (r *repo) FindByUserVendor(ctx context.Context, db *gorm.DB, userID snowflake.ID, vendor string) (*domain.Connection, error) {
	var conn domain.Connection
	err := db.WithContext(ctx).
		Where("user_id = ? AND vendor = ?", userID, vendor).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB) ([]*domain.Connection, error) {
	var conns []*domain.Connection
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("id asc").
		Find(&conns).Error
	return conns, err
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*domain.Connection, error) {
	var conns []*domain.Connection
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&conns).Error
	return conns, err
}
