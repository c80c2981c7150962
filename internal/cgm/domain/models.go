package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ConnectionStatus tracks the health of a vendor link as observed by the
// most recent credential check or poll.
type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "connected"
	StatusFailed    ConnectionStatus = "failed"
	StatusExpired   ConnectionStatus = "expired"
	StatusTesting   ConnectionStatus = "testing"
)

const (
	VendorDexcom    = "dexcom"
	VendorLibreView = "libreview"
)

// Connection is one user's link to one CGM vendor account. Unique per
// (user, vendor). Never hard-deleted; disconnecting clears the active
// flag so poll history stays attributable.
type Connection struct {
	ID             snowflake.ID     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID         snowflake.ID     `gorm:"index;uniqueIndex:ux_cgm_connection_vendor" json:"user_id"`
	Vendor         string           `gorm:"size:32;uniqueIndex:ux_cgm_connection_vendor" json:"vendor"`
	Region         string           `gorm:"size:16" json:"region"`
	Username       string           `gorm:"size:255" json:"username"`
	SealedPassword string           `gorm:"type:text" json:"-"`
	AccountID      string           `gorm:"size:255" json:"account_id"`
	Status         ConnectionStatus `gorm:"size:16" json:"status"`
	Active         bool             `gorm:"index" json:"active"`
	FailureCount   int              `json:"failure_count"`
	PollInterval   int              `gorm:"column:poll_interval_seconds" json:"poll_interval_seconds"`
	LastSyncAt     *time.Time       `json:"last_sync_at,omitempty"`
	LastError      string           `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Connection) TableName() string { return "cgm_connections" }

// Account carries the plaintext credentials handed to a vendor client.
// It is never persisted; the connection row stores only the sealed form.
type Account struct {
	Username string
	Password string
	Region   string
}

// Reading is the single most-recent glucose value a vendor reports.
type Reading struct {
	Value     float64
	Timestamp time.Time
	Trend     string
}

// Client is a vendor-specific CGM API client.
type Client interface {
	Vendor() string
	// ValidateCredentials performs a full login and returns the vendor's
	// account identifier. Used only at connection setup.
	ValidateCredentials(ctx context.Context, account Account) (string, error)
	// FetchCurrentReading returns the latest reading only, never a
	// historical backfill.
	FetchCurrentReading(ctx context.Context, account Account) (*Reading, error)
}

type ConnectRequest struct {
	UserID   snowflake.ID
	Vendor   string
	Region   string
	Username string
	Password string
}

type Service interface {
	Connect(ctx context.Context, req ConnectRequest) (*Connection, error)
	Disconnect(ctx context.Context, userID snowflake.ID, vendor string) error
	List(ctx context.Context, userID snowflake.ID) ([]*Connection, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, conn *Connection) error
	Update(ctx context.Context, db *gorm.DB, conn *Connection) error
	FindByUserVendor(ctx context.Context, db *gorm.DB, userID snowflake.ID, vendor string) (*Connection, error)
	FindActive(ctx context.Context, db *gorm.DB) ([]*Connection, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*Connection, error)
}
