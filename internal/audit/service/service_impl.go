package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/vitalsync/vitalsync/internal/audit/domain"
	"github.com/vitalsync/vitalsync/internal/clock"
	"github.com/vitalsync/vitalsync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Begin(ctx context.Context, userID snowflake.ID, connectionID *snowflake.ID, kind auditdomain.AttemptKind) (*auditdomain.SyncAttempt, error) {
	if userID == 0 {
		return nil, auditdomain.ErrInvalidUser
	}
	now := s.clock.Now()
	attempt := &auditdomain.SyncAttempt{
		ID:           s.genID.Generate(),
		RunID:        ulid.Make().String(),
		UserID:       userID,
		ConnectionID: connectionID,
		Kind:         kind,
		StartedAt:    now,
		Status:       auditdomain.AttemptStatusInProgress,
		CreatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *Service) Finish(ctx context.Context, attempt *auditdomain.SyncAttempt, counts auditdomain.Counts, attemptErr error) error {
	if attempt == nil {
		return nil
	}
	if attempt.Status != auditdomain.AttemptStatusInProgress {
		return auditdomain.ErrAttemptFinalized
	}

	now := s.clock.Now()
	attempt.FinishedAt = &now
	attempt.Fetched = counts.Fetched
	attempt.Inserted = counts.Inserted
	attempt.Duplicates = counts.Duplicates
	attempt.DurationMS = now.Sub(attempt.StartedAt).Milliseconds()
	if attemptErr != nil {
		attempt.Status = auditdomain.AttemptStatusFailed
		attempt.Error = attemptErr.Error()
	} else {
		attempt.Status = auditdomain.AttemptStatusCompleted
	}

	if err := s.repo.Finalize(ctx, s.db, attempt); err != nil {
		s.log.Warn("failed to finalize sync attempt",
			zap.String("run_id", attempt.RunID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAttemptsRequest) (auditdomain.ListAttemptsResponse, error) {
	if req.UserID == 0 {
		return auditdomain.ListAttemptsResponse{}, auditdomain.ErrInvalidUser
	}
	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return auditdomain.ListAttemptsResponse{}, auditdomain.ErrInvalidTimeRange
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := auditdomain.ListFilter{
		UserID:       req.UserID,
		ConnectionID: req.ConnectionID,
		Kind:         req.Kind,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
		Limit:        pageSize,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListAttemptsResponse{}, auditdomain.ErrInvalidPageToken
		}
		filter.Cursor = cursor
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListAttemptsResponse{}, err
	}

	pageInfo, rows := pagination.BuildCursorPageInfo(rows, pageSize, func(a *auditdomain.SyncAttempt) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        a.ID.String(),
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	resp := auditdomain.ListAttemptsResponse{PageInfo: *pageInfo}
	resp.Attempts = make([]auditdomain.SyncAttempt, 0, len(rows))
	for _, row := range rows {
		resp.Attempts = append(resp.Attempts, *row)
	}
	return resp, nil
}
