package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitalsync/vitalsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListAttemptsRequest struct {
	pagination.Pagination
	UserID       snowflake.ID
	ConnectionID *snowflake.ID
	Kind         AttemptKind
	StartAt      *time.Time
	EndAt        *time.Time
}

type ListAttemptsResponse struct {
	pagination.PageInfo
	Attempts []SyncAttempt `json:"attempts"`
}

type Service interface {
	// Begin opens an in-progress attempt row and returns it.
	Begin(ctx context.Context, userID snowflake.ID, connectionID *snowflake.ID, kind AttemptKind) (*SyncAttempt, error)
	// Finish finalizes an attempt with its counts and outcome. A finished
	// attempt is never updated again.
	Finish(ctx context.Context, attempt *SyncAttempt, counts Counts, attemptErr error) error
	List(ctx context.Context, req ListAttemptsRequest) (ListAttemptsResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, attempt *SyncAttempt) error
	Finalize(ctx context.Context, db *gorm.DB, attempt *SyncAttempt) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*SyncAttempt, error)
}

type ListFilter struct {
	UserID       snowflake.ID
	ConnectionID *snowflake.ID
	Kind         AttemptKind
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *pagination.Cursor
	Limit        int
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrAttemptFinalized = errors.New("attempt_already_finalized")
)
