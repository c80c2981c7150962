package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auditdomain "github.com/vitalsync/vitalsync/internal/audit/domain"
	auditrepository "github.com/vitalsync/vitalsync/internal/audit/repository"
	auditservice "github.com/vitalsync/vitalsync/internal/audit/service"
	"github.com/vitalsync/vitalsync/internal/clock"
	"github.com/vitalsync/vitalsync/internal/config"
	sleepdomain "github.com/vitalsync/vitalsync/internal/sleep/domain"
	sleepservice "github.com/vitalsync/vitalsync/internal/sleep/service"
	syncdomain "github.com/vitalsync/vitalsync/internal/sync/domain"
	telemetrydomain "github.com/vitalsync/vitalsync/internal/telemetry/domain"
	telemetryrepository "github.com/vitalsync/vitalsync/internal/telemetry/repository"
	"github.com/vitalsync/vitalsync/internal/telemetry/normalize"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db    *gorm.DB
	svc   *Service
	clock *clock.FakeClock
	genID *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&telemetrydomain.TelemetryRecord{},
		&telemetrydomain.DisplayRecord{},
		&auditdomain.SyncAttempt{},
		&sleepdomain.SleepSummary{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	telemetryRepo := telemetryrepository.Provide()

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
		Repo:  auditrepository.Provide(),
	})
	sleepSvc := sleepservice.NewService(sleepservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
		Repo:  telemetryRepo,
	})

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		Clock:      fakeClock,
		Normalizer: normalize.New(node),
		Repo:       telemetryRepo,
		AuditSvc:   auditSvc,
		SleepSvc:   sleepSvc,
		Profiles:   config.NewStaticSyncProfileHolder(config.DefaultSyncProfiles()),
	}).(*Service)
	svc.newPolicy = func(profile config.SyncProfile) RetryPolicy {
		return RetryPolicy{
			MaxRetries:  profile.MaxRetries,
			BackoffBase: profile.BackoffBase,
			BackoffMax:  profile.BackoffMax,
			Sleep:       func(time.Duration) {},
			Jitter:      func() float64 { return 0 },
		}
	}

	return &testEnv{db: db, svc: svc, clock: fakeClock, genID: node}
}

func glucoseEntry(id string, value float64, ts string) map[string]any {
	return map[string]any{
		"uuid":      id,
		"value":     value,
		"unit":      "mg/dL",
		"startDate": ts,
	}
}

func TestIngest_IdempotentUpsert(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	payload := map[telemetrydomain.DataType][]map[string]any{
		telemetrydomain.DataTypeGlucose: {
			glucoseEntry("g-1", 110, "2026-08-19T08:00:00Z"),
			glucoseEntry("g-2", 95, "2026-08-19T09:00:00Z"),
		},
	}

	first, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID:  userID,
		Payload: payload,
		Profile: config.ProfileIncrementalRefresh,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.RecordsArchived)

	second, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID:  userID,
		Payload: payload,
		Profile: config.ProfileIncrementalRefresh,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.RecordsArchived)

	var count int64
	require.NoError(t, env.db.Model(&telemetrydomain.TelemetryRecord{}).
		Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var record telemetrydomain.TelemetryRecord
	require.NoError(t, env.db.
		Where("user_id = ? AND sample_identity = ?", userID, "g-1").
		First(&record).Error)
	require.NotNil(t, record.ValueNum)
	assert.Equal(t, float64(110), *record.ValueNum)
}

func TestIngest_RedeliveryUpdatesValues(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	ingest := func(value float64) {
		_, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
			UserID: userID,
			Payload: map[telemetrydomain.DataType][]map[string]any{
				telemetrydomain.DataTypeGlucose: {
					glucoseEntry("g-1", value, "2026-08-19T08:00:00Z"),
				},
			},
		})
		require.NoError(t, err)
	}

	ingest(110)
	ingest(123)

	var records []telemetrydomain.TelemetryRecord
	require.NoError(t, env.db.Where("user_id = ?", userID).Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, float64(123), *records[0].ValueNum)
}

func TestIngest_IdentityGuarantee(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	_, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeStepCount: {
				{"value": float64(420), "startDate": "2026-08-19T08:00:00Z"},
				{"value": float64(380), "startDate": "2026-08-19T09:00:00Z"},
			},
		},
	})
	require.NoError(t, err)

	var records []telemetrydomain.TelemetryRecord
	require.NoError(t, env.db.Where("user_id = ?", userID).Find(&records).Error)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.NotEmpty(t, record.SampleIdentity)
	}
}

func TestIngest_DisplayWindowConvergence(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	// Clock is pinned to 2026-08-20; the window spans 08-14 .. 08-20.
	payload := map[telemetrydomain.DataType][]map[string]any{
		telemetrydomain.DataTypeGlucose: {
			glucoseEntry("recent-1", 100, "2026-08-20T07:00:00Z"),
			glucoseEntry("recent-2", 104, "2026-08-14T07:00:00Z"),
			glucoseEntry("old-1", 90, "2026-08-13T07:00:00Z"),
			glucoseEntry("old-2", 85, "2026-01-01T07:00:00Z"),
		},
	}

	result, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID:  userID,
		Payload: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.RecordsArchived)
	assert.Equal(t, 2, result.RecordsDisplayed)

	var displayed []telemetrydomain.DisplayRecord
	require.NoError(t, env.db.Where("user_id = ?", userID).Find(&displayed).Error)
	require.Len(t, displayed, 2)
	identities := []string{displayed[0].SampleIdentity, displayed[1].SampleIdentity}
	assert.ElementsMatch(t, []string{"recent-1", "recent-2"}, identities)
}

func TestIngest_DisplayRebuiltPerSync(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	ingest := func(entries ...map[string]any) {
		_, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
			UserID: userID,
			Payload: map[telemetrydomain.DataType][]map[string]any{
				telemetrydomain.DataTypeGlucose: entries,
			},
		})
		require.NoError(t, err)
	}

	ingest(glucoseEntry("g-1", 100, "2026-08-20T07:00:00Z"))
	ingest(glucoseEntry("g-2", 104, "2026-08-20T08:00:00Z"))

	// The second sync cleared the glucose display rows before inserting,
	// so only its own view of the window remains.
	var displayed []telemetrydomain.DisplayRecord
	require.NoError(t, env.db.Where("user_id = ?", userID).Find(&displayed).Error)
	require.Len(t, displayed, 1)
	assert.Equal(t, "g-2", displayed[0].SampleIdentity)

	var archived int64
	require.NoError(t, env.db.Model(&telemetrydomain.TelemetryRecord{}).
		Where("user_id = ?", userID).Count(&archived).Error)
	assert.Equal(t, int64(2), archived)
}

// flakyRepo fails one UpsertBatch call of a given size and delegates
// everything else to the real repository.
type flakyRepo struct {
	telemetrydomain.Repository
	failSize    int
	failed      bool
	upsertSizes []int
}

func (r *flakyRepo) UpsertBatch(ctx context.Context, db *gorm.DB, records []*telemetrydomain.TelemetryRecord) error {
	r.upsertSizes = append(r.upsertSizes, len(records))
	if !r.failed && len(records) == r.failSize {
		r.failed = true
		return fmt.Errorf("near \"ON\": syntax error")
	}
	return r.Repository.UpsertBatch(ctx, db, records)
}

func TestIngest_DefaultProfileFallsBackToBatching(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	var entries []map[string]any
	for i := 0; i < 250; i++ {
		entries = append(entries, glucoseEntry(
			fmt.Sprintf("g-%03d", i),
			90+float64(i%40),
			"2026-08-19T08:00:00Z",
		))
	}

	// The whole-lane transaction fails once; the default profile then
	// retries the lane in batches of its configured size.
	flaky := &flakyRepo{Repository: env.svc.repo, failSize: 250}
	env.svc.repo = flaky

	result, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeGlucose: entries,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 250, result.RecordsArchived)
	assert.Equal(t, []int{250, 200, 50}, flaky.upsertSizes)

	var count int64
	require.NoError(t, env.db.Model(&telemetrydomain.TelemetryRecord{}).
		Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(250), count)
}

func TestIngest_AllMalformedTypeStillClearsDisplay(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	_, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeGlucose: {
				glucoseEntry("g-1", 100, "2026-08-20T07:00:00Z"),
			},
		},
	})
	require.NoError(t, err)

	// Every glucose entry of the next sync is unusable, yet glucose was
	// present in the batch, so its stale display rows must still go.
	result, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeGlucose: {
				{"uuid": "bad", "value": float64(90), "startDate": "garbage"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsDropped)
	assert.Equal(t, []telemetrydomain.DataType{telemetrydomain.DataTypeGlucose}, result.TypesTouched)

	var displayed int64
	require.NoError(t, env.db.Model(&telemetrydomain.DisplayRecord{}).
		Where("user_id = ?", userID).Count(&displayed).Error)
	assert.Equal(t, int64(0), displayed)
}

func TestIngest_MalformedEntriesDroppedNotFatal(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	result, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeGlucose: {
				glucoseEntry("good", 100, "2026-08-20T07:00:00Z"),
				{"uuid": "bad", "value": float64(90), "startDate": "garbage"},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecordsArchived)
	assert.Equal(t, 1, result.RecordsDropped)
}

func TestIngest_SleepLaneTriggersReconstruction(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	result, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeSleep: {
				{
					"uuid":      "s-1",
					"value":     "asleep",
					"startDate": "2026-08-18T23:00:00Z",
					"endDate":   "2026-08-19T06:30:00Z",
				},
			},
			telemetrydomain.DataTypeStepCount: {
				{"uuid": "st-1", "value": float64(500), "startDate": "2026-08-19T10:00:00Z"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsArchived)
	assert.ElementsMatch(t,
		[]telemetrydomain.DataType{telemetrydomain.DataTypeSleep, telemetrydomain.DataTypeStepCount},
		result.TypesTouched,
	)

	var summaries []sleepdomain.SleepSummary
	require.NoError(t, env.db.Where("user_id = ?", userID).Find(&summaries).Error)
	require.Len(t, summaries, 1)
	assert.Equal(t, "2026-08-18", summaries[0].NightDate)
}

func TestIngest_NoSleepNoReconstruction(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	_, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeStepCount: {
				{"uuid": "st-1", "value": float64(500), "startDate": "2026-08-19T10:00:00Z"},
			},
		},
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, env.db.Model(&sleepdomain.SleepSummary{}).
		Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestIngest_AuditAttemptRecorded(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	_, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeGlucose: {
				glucoseEntry("g-1", 100, "2026-08-20T07:00:00Z"),
			},
		},
	})
	require.NoError(t, err)

	var attempts []auditdomain.SyncAttempt
	require.NoError(t, env.db.Where("user_id = ?", userID).Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, auditdomain.AttemptKindBulk, attempts[0].Kind)
	assert.Equal(t, auditdomain.AttemptStatusCompleted, attempts[0].Status)
	assert.Equal(t, 1, attempts[0].Fetched)
	assert.Equal(t, 1, attempts[0].Inserted)
	assert.NotNil(t, attempts[0].FinishedAt)
	assert.NotEmpty(t, attempts[0].RunID)
}

func TestIngest_LargePayloadBatches(t *testing.T) {
	env := newTestEnv(t)
	userID := env.genID.Generate()

	var entries []map[string]any
	for i := 0; i < 250; i++ {
		entries = append(entries, glucoseEntry(
			fmt.Sprintf("g-%03d", i),
			90+float64(i%40),
			"2026-08-19T08:00:00Z",
		))
	}

	// The initial-historical profile batches at 100 records.
	result, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: userID,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeGlucose: entries,
		},
		Profile: config.ProfileInitialHistorical,
	})
	require.NoError(t, err)
	assert.Equal(t, 250, result.RecordsArchived)

	var count int64
	require.NoError(t, env.db.Model(&telemetrydomain.TelemetryRecord{}).
		Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(250), count)
}

func TestIngest_InputValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: 0,
		Payload: map[telemetrydomain.DataType][]map[string]any{
			telemetrydomain.DataTypeGlucose: {glucoseEntry("g", 100, "2026-08-20T07:00:00Z")},
		},
	})
	assert.ErrorIs(t, err, syncdomain.ErrInvalidUser)

	_, err = env.svc.Ingest(context.Background(), syncdomain.IngestRequest{
		UserID: env.genID.Generate(),
	})
	assert.ErrorIs(t, err, syncdomain.ErrEmptyPayload)
}
