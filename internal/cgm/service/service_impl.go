package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/vitalsync/vitalsync/internal/cgm/domain"
	"github.com/vitalsync/vitalsync/internal/cgm/vendors"
	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Vault    *vault.Vault
	Registry *vendors.Registry
	Repo     domain.Repository
	Config   config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	vault    *vault.Vault
	registry *vendors.Registry
	repo     domain.Repository
	cfg      config.Config
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("cgm.service"),
		genID:    p.GenID,
		vault:    p.Vault,
		registry: p.Registry,
		repo:     p.Repo,
		cfg:      p.Config,
	}
}

// Connect validates the credentials against the vendor, seals the
// password, and upserts the (user, vendor) connection. A connection is
// only created or refreshed after the vendor accepts the credentials.
func (s *Service) Connect(ctx context.Context, req domain.ConnectRequest) (*domain.Connection, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	vendor := strings.ToLower(strings.TrimSpace(req.Vendor))
	if vendor == "" || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	client, err := s.registry.Client(vendor)
	if err != nil {
		return nil, err
	}

	account := domain.Account{
		Username: strings.TrimSpace(req.Username),
		Password: req.Password,
		Region:   strings.ToLower(strings.TrimSpace(req.Region)),
	}

	validateCtx, cancel := context.WithTimeout(ctx, s.cfg.PollRequestTimeout)
	defer cancel()
	accountID, err := client.ValidateCredentials(validateCtx, account)
	if err != nil {
		classified := domain.ClassifyVendorError(err)
		s.log.Warn("credential validation failed",
			zap.String("user_id", req.UserID.String()),
			zap.String("vendor", vendor),
			zap.Error(classified),
		)
		return nil, classified
	}

	sealed, err := s.vault.Seal(req.Password)
	if err != nil {
		return nil, err
	}

	conn := &domain.Connection{
		ID:             s.genID.Generate(),
		UserID:         req.UserID,
		Vendor:         vendor,
		Region:         account.Region,
		Username:       account.Username,
		SealedPassword: sealed,
		AccountID:      accountID,
		Status:         domain.StatusConnected,
		Active:         true,
		FailureCount:   0,
		PollInterval:   int(s.cfg.PollInterval.Seconds()),
	}
	if err := s.repo.Upsert(ctx, s.db, conn); err != nil {
		return nil, err
	}

	// Re-read so a refreshed connection comes back with its original id
	// and timestamps rather than the candidate row's.
	stored, err := s.repo.FindByUserVendor(ctx, s.db, req.UserID, vendor)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return conn, nil
	}

	s.log.Info("cgm connection established",
		zap.String("user_id", req.UserID.String()),
		zap.String("vendor", vendor),
		zap.String("connection_id", stored.ID.String()),
	)
	return stored, nil
}

// Disconnect clears the active flag. The row is kept so past sync
// attempts remain attributable.
func (s *Service) Disconnect(ctx context.Context, userID snowflake.ID, vendor string) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	vendor = strings.ToLower(strings.TrimSpace(vendor))

	conn, err := s.repo.FindByUserVendor(ctx, s.db, userID, vendor)
	if err != nil {
		return err
	}
	if conn == nil {
		return domain.ErrConnectionNotFound
	}
	if !conn.Active {
		return nil
	}

	conn.Active = false
	if err := s.repo.Update(ctx, s.db, conn); err != nil {
		return err
	}
	s.log.Info("cgm connection disconnected",
		zap.String("user_id", userID.String()),
		zap.String("vendor", vendor),
	)
	return nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]*domain.Connection, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	return s.repo.ListByUser(ctx, s.db, userID)
}
