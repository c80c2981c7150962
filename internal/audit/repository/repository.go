package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vitalsync/vitalsync/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attempt *domain.SyncAttempt) error {
	if attempt == nil {
		return nil
	}
	return db.WithContext(ctx).Create(attempt).Error
}

func (r *repo) Finalize(ctx context.Context, db *gorm.DB, attempt *domain.SyncAttempt) error {
	return db.WithContext(ctx).Model(&domain.SyncAttempt{}).
		Where("id = ? AND status = ?", attempt.ID, domain.AttemptStatusInProgress).
		Updates(map[string]any{
			"finished_at": attempt.FinishedAt,
			"fetched":     attempt.Fetched,
			"inserted":    attempt.Inserted,
			"duplicates":  attempt.Duplicates,
			"status":      attempt.Status,
			"error":       attempt.Error,
			"duration_ms": attempt.DurationMS,
		}).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.SyncAttempt, error) {
	var attempts []*domain.SyncAttempt
	stmt := db.WithContext(ctx).Model(&domain.SyncAttempt{}).
		Where("user_id = ?", filter.UserID)

	if filter.ConnectionID != nil {
		stmt = stmt.Where("connection_id = ?", *filter.ConnectionID)
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("started_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("started_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, filter.Cursor.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor timestamp: %w", err)
		}
		id, err := strconv.ParseInt(filter.Cursor.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor id: %w", err)
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			createdAt, createdAt, id,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}
