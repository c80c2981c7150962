package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	auditdomain "github.com/vitalsync/vitalsync/internal/audit/domain"
	"github.com/vitalsync/vitalsync/internal/clock"
	"github.com/vitalsync/vitalsync/internal/config"
	sleepdomain "github.com/vitalsync/vitalsync/internal/sleep/domain"
	syncdomain "github.com/vitalsync/vitalsync/internal/sync/domain"
	telemetrydomain "github.com/vitalsync/vitalsync/internal/telemetry/domain"
	"github.com/vitalsync/vitalsync/internal/telemetry/normalize"
	"github.com/vitalsync/vitalsync/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// displayWindowDays is the size of the rolling display window: today plus
// six previous calendar days.
const displayWindowDays = 7

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Normalizer *normalize.Normalizer
	Repo       telemetrydomain.Repository
	AuditSvc   auditdomain.Service
	SleepSvc   sleepdomain.Service
	Profiles   *config.SyncProfileHolder
	Metrics    *telemetry.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	normalizer *normalize.Normalizer
	repo       telemetrydomain.Repository
	auditSvc   auditdomain.Service
	sleepSvc   sleepdomain.Service
	profiles   *config.SyncProfileHolder
	metrics    *telemetry.Metrics

	// newPolicy is swappable in tests to remove real backoff delays.
	newPolicy func(config.SyncProfile) RetryPolicy
}

func NewService(p Params) syncdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("sync.service"),
		clock:      p.Clock,
		normalizer: p.Normalizer,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		sleepSvc:   p.SleepSvc,
		profiles:   p.Profiles,
		metrics:    p.Metrics,
		newPolicy:  NewRetryPolicy,
	}
}

func (s *Service) Ingest(ctx context.Context, req syncdomain.IngestRequest) (syncdomain.IngestResult, error) {
	var result syncdomain.IngestResult

	if req.UserID == 0 {
		return result, syncdomain.ErrInvalidUser
	}
	if len(req.Payload) == 0 {
		return result, syncdomain.ErrEmptyPayload
	}

	start := s.clock.Now()
	profile := s.profiles.Profile(req.Profile)
	log := s.log.With(
		zap.String("user_id", req.UserID.String()),
		zap.String("profile", profile.Name),
	)

	attempt, err := s.auditSvc.Begin(ctx, req.UserID, nil, auditdomain.AttemptKindBulk)
	if err != nil {
		return result, fmt.Errorf("begin sync attempt: %w", err)
	}

	// Touched types come from the payload itself, so a type whose entries
	// were all malformed still has its display rows cleared.
	result.TypesTouched = payloadTypes(req.Payload)

	fetched, records, dropped := s.normalizeAll(req, log)
	result.RecordsDropped = dropped

	policy := s.newPolicy(profile)
	policy.OnRetry = func(attemptNo int, retryErr error) {
		s.metrics.IncBatchRetry()
		log.Warn("retrying batch after write contention",
			zap.Int("attempt", attemptNo),
			zap.Error(retryErr),
		)
	}

	// The display window always reflects only the latest sync's view of
	// the touched data types.
	if err := policy.Do(ctx, func() error {
		return s.repo.ClearDisplay(ctx, s.db, req.UserID, result.TypesTouched)
	}); err != nil {
		s.finish(ctx, attempt, result, fetched, err)
		s.metrics.ObserveSync(profile.Name, "failed", s.clock.Now().Sub(start))
		return result, fmt.Errorf("clear display window: %w", err)
	}

	// Sleep samples take a separate lane, processed after the numeric
	// lane, so their slower upserts never contend with high-volume
	// numeric batches.
	numericLane, sleepLane := partitionLanes(records)

	var laneErrs error
	for _, lane := range [][]*telemetrydomain.TelemetryRecord{numericLane, sleepLane} {
		archived, displayed, laneErr := s.processLane(ctx, lane, profile, policy, log)
		result.RecordsArchived += archived
		result.RecordsDisplayed += displayed
		laneErrs = errors.Join(laneErrs, laneErr)
		if ctx.Err() != nil {
			// Committed batches stay committed; the rest of this call
			// is abandoned and safe to retry.
			laneErrs = errors.Join(laneErrs, ctx.Err())
			break
		}
	}

	cleaned, cleanupErr := s.repo.CleanupDuplicates(ctx, s.db, req.UserID)
	if cleanupErr != nil {
		log.Warn("duplicate cleanup failed", zap.Error(cleanupErr))
	}
	result.DuplicatesCleaned = int(cleaned)

	if len(sleepLane) > 0 && ctx.Err() == nil {
		if _, sleepErr := s.sleepSvc.Reconstruct(ctx, req.UserID); sleepErr != nil {
			log.Warn("sleep reconstruction failed", zap.Error(sleepErr))
			laneErrs = errors.Join(laneErrs, sleepErr)
		}
	}

	s.finish(ctx, attempt, result, fetched, laneErrs)

	status := "completed"
	if laneErrs != nil {
		status = "partial"
	}
	s.metrics.ObserveSync(profile.Name, status, s.clock.Now().Sub(start))
	log.Info("bulk sync finished",
		zap.Int("fetched", fetched),
		zap.Int("archived", result.RecordsArchived),
		zap.Int("displayed", result.RecordsDisplayed),
		zap.Int("dropped", result.RecordsDropped),
		zap.String("status", status),
	)

	// Partial failure still reports what succeeded; only a cancelled
	// context aborts the call as a whole.
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// normalizeAll converts the raw payload into canonical records. Malformed
// entries are dropped and logged, never fatal to the batch.
func (s *Service) normalizeAll(req syncdomain.IngestRequest, log *zap.Logger) (fetched int, records []*telemetrydomain.TelemetryRecord, dropped int) {
	for _, dataType := range payloadTypes(req.Payload) {
		for _, raw := range req.Payload[dataType] {
			fetched++
			record, err := s.normalizer.Normalize(req.UserID, dataType, raw)
			if err != nil {
				dropped++
				log.Warn("dropping unusable entry",
					zap.String("data_type", string(dataType)),
					zap.Error(err),
				)
				continue
			}
			records = append(records, record)
		}
	}
	return fetched, records, dropped
}

func payloadTypes(payload map[telemetrydomain.DataType][]map[string]any) []telemetrydomain.DataType {
	types := make([]telemetrydomain.DataType, 0, len(payload))
	for dataType := range payload {
		types = append(types, dataType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func partitionLanes(records []*telemetrydomain.TelemetryRecord) (numeric, sleep []*telemetrydomain.TelemetryRecord) {
	for _, record := range records {
		if record.DataType.IsSleep() {
			sleep = append(sleep, record)
		} else {
			numeric = append(numeric, record)
		}
	}
	return numeric, sleep
}

// processLane ingests one lane. The no-batching profile tries the whole
// lane in a single transaction first and falls back to batching when that
// fails. A batch that exhausts its retries is logged and skipped; the
// remaining batches still run.
func (s *Service) processLane(
	ctx context.Context,
	lane []*telemetrydomain.TelemetryRecord,
	profile config.SyncProfile,
	policy RetryPolicy,
	log *zap.Logger,
) (archived, displayed int, err error) {
	if len(lane) == 0 {
		return 0, 0, nil
	}

	if profile.NoBatching {
		archived, displayed, singleErr := s.processBatch(ctx, lane, policy)
		if singleErr == nil {
			return archived, displayed, nil
		}
		log.Warn("single-transaction ingest failed, falling back to batching",
			zap.Int("records", len(lane)),
			zap.Error(singleErr),
		)
	}

	batchSize := profile.BatchSize
	if batchSize <= 0 {
		batchSize = len(lane)
	}

	var laneErr error
	for offset := 0; offset < len(lane); offset += batchSize {
		if ctx.Err() != nil {
			return archived, displayed, errors.Join(laneErr, ctx.Err())
		}
		end := offset + batchSize
		if end > len(lane) {
			end = len(lane)
		}
		batch := lane[offset:end]

		batchArchived, batchDisplayed, batchErr := s.processBatch(ctx, batch, policy)
		if batchErr != nil {
			s.metrics.IncBatchFailure()
			log.Error("batch failed after exhausting retries, skipping",
				zap.Int("offset", offset),
				zap.Int("size", len(batch)),
				zap.Error(batchErr),
			)
			laneErr = errors.Join(laneErr, fmt.Errorf("batch at offset %d: %w", offset, batchErr))
			continue
		}
		archived += batchArchived
		displayed += batchDisplayed
	}
	return archived, displayed, laneErr
}

// processBatch commits one batch in one transaction: archive upsert plus
// the display-window subset.
func (s *Service) processBatch(
	ctx context.Context,
	batch []*telemetrydomain.TelemetryRecord,
	policy RetryPolicy,
) (archived, displayed int, err error) {
	var displayRecords []*telemetrydomain.DisplayRecord
	for _, record := range batch {
		if s.inDisplayWindow(record.StartTS) {
			display := record.ToDisplay()
			displayRecords = append(displayRecords, &display)
		}
	}

	err = policy.Do(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.UpsertBatch(ctx, tx, batch); err != nil {
				return err
			}
			return s.repo.InsertDisplay(ctx, tx, displayRecords)
		})
	})
	if err != nil {
		return 0, 0, err
	}

	byType := map[telemetrydomain.DataType]int{}
	for _, record := range batch {
		byType[record.DataType]++
	}
	for dataType, count := range byType {
		s.metrics.RecordArchived(string(dataType), count)
	}
	byType = map[telemetrydomain.DataType]int{}
	for _, record := range displayRecords {
		byType[record.DataType]++
	}
	for dataType, count := range byType {
		s.metrics.RecordDisplayed(string(dataType), count)
	}

	return len(batch), len(displayRecords), nil
}

// inDisplayWindow reports whether a start timestamp falls within the last
// seven calendar days, today inclusive. The window is always anchored to
// the actual current date regardless of data recency.
func (s *Service) inDisplayWindow(startTS time.Time) bool {
	today := s.clock.Now().UTC().Truncate(24 * time.Hour)
	windowStart := today.AddDate(0, 0, -(displayWindowDays - 1))
	startDate := startTS.UTC().Truncate(24 * time.Hour)
	return !startDate.Before(windowStart) && !startDate.After(today)
}

func (s *Service) finish(ctx context.Context, attempt *auditdomain.SyncAttempt, result syncdomain.IngestResult, fetched int, attemptErr error) {
	counts := auditdomain.Counts{
		Fetched:    fetched,
		Inserted:   result.RecordsArchived,
		Duplicates: result.DuplicatesCleaned,
	}
	if err := s.auditSvc.Finish(ctx, attempt, counts, attemptErr); err != nil {
		s.log.Warn("failed to record sync attempt outcome", zap.Error(err))
	}
}
