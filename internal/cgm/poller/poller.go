package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vitalsync/vitalsync/internal/audit/domain"
	"github.com/vitalsync/vitalsync/internal/cgm/domain"
	"github.com/vitalsync/vitalsync/internal/cgm/vendors"
	"github.com/vitalsync/vitalsync/internal/clock"
	"github.com/vitalsync/vitalsync/internal/config"
	telemetrydomain "github.com/vitalsync/vitalsync/internal/telemetry/domain"
	"github.com/vitalsync/vitalsync/internal/vault"
	"github.com/vitalsync/vitalsync/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Vault         *vault.Vault
	Registry      *vendors.Registry
	ConnRepo      domain.Repository
	TelemetryRepo telemetrydomain.Repository
	AuditSvc      auditdomain.Service
	Config        config.Config
	Metrics       *telemetry.Metrics `optional:"true"`
}

// Poller periodically fetches the single most-recent reading for every
// active connection. Each connection is polled independently; one
// vendor's failure never blocks the rest of the cycle.
type Poller struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	vault         *vault.Vault
	registry      *vendors.Registry
	connRepo      domain.Repository
	telemetryRepo telemetrydomain.Repository
	auditSvc      auditdomain.Service
	cfg           config.Config
	metrics       *telemetry.Metrics
}

func New(p Params) *Poller {
	return &Poller{
		db:            p.DB,
		log:           p.Log.Named("cgm.poller"),
		genID:         p.GenID,
		clock:         p.Clock,
		vault:         p.Vault,
		registry:      p.Registry,
		connRepo:      p.ConnRepo,
		telemetryRepo: p.TelemetryRepo,
		auditSvc:      p.AuditSvc,
		cfg:           p.Config,
		metrics:       p.Metrics,
	}
}

func (p *Poller) RunForever(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil {
			p.log.Warn("poll cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single poll cycle over every active, due connection.
func (p *Poller) RunOnce(ctx context.Context) error {
	conns, err := p.connRepo.FindActive(ctx, p.db)
	if err != nil {
		return fmt.Errorf("list active connections: %w", err)
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.due(conn) {
			continue
		}
		if err := p.pollConnection(ctx, conn); err != nil {
			p.log.Warn("poll failed",
				zap.String("connection_id", conn.ID.String()),
				zap.String("vendor", conn.Vendor),
				zap.Error(err),
			)
		}
	}
	return nil
}

// due honors a connection's own poll interval when it is longer than the
// cycle interval.
func (p *Poller) due(conn *domain.Connection) bool {
	if conn.LastSyncAt == nil || conn.PollInterval <= 0 {
		return true
	}
	interval := time.Duration(conn.PollInterval) * time.Second
	return p.clock.Now().Sub(*conn.LastSyncAt) >= interval
}

func (p *Poller) pollConnection(ctx context.Context, conn *domain.Connection) error {
	attempt, err := p.auditSvc.Begin(ctx, conn.UserID, &conn.ID, auditdomain.AttemptKindPoll)
	if err != nil {
		return fmt.Errorf("begin poll attempt: %w", err)
	}

	reading, fetchErr := p.fetchReading(ctx, conn)
	if fetchErr != nil {
		classified := domain.ClassifyVendorError(fetchErr)
		conn.FailureCount++
		conn.LastError = classified.Error()
		// Status stays untouched until the failure threshold, so a
		// transient vendor hiccup does not flap the connection.
		if conn.FailureCount >= p.cfg.PollFailureThreshold {
			if errors.Is(classified, domain.ErrInvalidCredentials) {
				conn.Status = domain.StatusExpired
			} else {
				conn.Status = domain.StatusFailed
			}
		}
		if err := p.connRepo.Update(ctx, p.db, conn); err != nil {
			p.log.Warn("failed to persist poll failure state", zap.Error(err))
		}
		p.metrics.RecordPoll(conn.Vendor, "failed")
		p.finish(ctx, attempt, auditdomain.Counts{Fetched: 0}, classified)
		return classified
	}

	if err := p.recordReading(ctx, conn, reading); err != nil {
		// A storage failure is not the vendor's fault. Leave the
		// connection's health counters alone so a local outage cannot
		// degrade or expire a working connection.
		storeErr := fmt.Errorf("record reading: %w", err)
		p.metrics.RecordPoll(conn.Vendor, "failed")
		p.finish(ctx, attempt, auditdomain.Counts{Fetched: 1}, storeErr)
		return storeErr
	}

	now := p.clock.Now()
	conn.FailureCount = 0
	conn.Status = domain.StatusConnected
	conn.LastError = ""
	conn.LastSyncAt = &now
	if err := p.connRepo.Update(ctx, p.db, conn); err != nil {
		p.log.Warn("failed to persist poll success state", zap.Error(err))
	}

	p.metrics.RecordPoll(conn.Vendor, "ok")
	p.finish(ctx, attempt, auditdomain.Counts{Fetched: 1, Inserted: 1}, nil)
	return nil
}

func (p *Poller) fetchReading(ctx context.Context, conn *domain.Connection) (*domain.Reading, error) {
	client, err := p.registry.Client(conn.Vendor)
	if err != nil {
		return nil, err
	}

	password, err := p.vault.Unseal(conn.SealedPassword)
	if err != nil {
		return nil, fmt.Errorf("unseal credentials: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.PollRequestTimeout)
	defer cancel()
	return client.FetchCurrentReading(fetchCtx, domain.Account{
		Username: conn.Username,
		Password: password,
		Region:   conn.Region,
	})
}

// recordReading upserts the reading into the glucose series. The sample
// identity is derived from the vendor and the reading timestamp, so a
// reading re-fetched at the same timestamp updates in place instead of
// duplicating.
func (p *Poller) recordReading(ctx context.Context, conn *domain.Connection, reading *domain.Reading) error {
	value := reading.Value
	record := &telemetrydomain.TelemetryRecord{
		ID:             p.genID.Generate(),
		UserID:         conn.UserID,
		DataType:       telemetrydomain.DataTypeGlucose,
		ValueNum:       &value,
		Unit:           "mg/dL",
		StartTS:        reading.Timestamp.UTC(),
		EndTS:          reading.Timestamp.UTC(),
		SourceName:     conn.Vendor,
		SampleIdentity: fmt.Sprintf("cgm:%s:%d", conn.Vendor, reading.Timestamp.UTC().Unix()),
		Metadata:       datatypes.JSONMap{},
	}
	if reading.Trend != "" {
		record.Metadata["trend"] = reading.Trend
	}

	return p.telemetryRepo.UpsertBatch(ctx, p.db, []*telemetrydomain.TelemetryRecord{record})
}

func (p *Poller) finish(ctx context.Context, attempt *auditdomain.SyncAttempt, counts auditdomain.Counts, pollErr error) {
	if err := p.auditSvc.Finish(ctx, attempt, counts, pollErr); err != nil {
		p.log.Warn("failed to record poll attempt outcome", zap.Error(err))
	}
}
