// Package domain contains sleep reconstruction models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SleepSession is one raw interval after timezone localization. It is an
// intermediate value, never persisted.
type SleepSession struct {
	StartLocal  time.Time
	EndLocal    time.Time
	Hours       float64
	SourceValue string
}

// SleepSummary is one reconstructed nightly sleep total. Summaries are
// idempotent derived state: each reconstruction replaces the user's whole
// set, never patches it incrementally.
type SleepSummary struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	UserID      snowflake.ID `gorm:"not null;uniqueIndex:ux_sleep_summary_night,priority:1"`
	NightDate   string       `gorm:"type:date;not null;uniqueIndex:ux_sleep_summary_night,priority:2"`
	StartLocal  time.Time    `gorm:"not null"`
	EndLocal    time.Time    `gorm:"not null"`
	AsleepHours float64      `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SleepSummary) TableName() string { return "sleep_summaries" }

type Service interface {
	// Reconstruct recomputes the user's entire sleep summary set from all
	// raw sleep records in the archive and returns the new set ordered by
	// night date.
	Reconstruct(ctx context.Context, userID snowflake.ID) ([]SleepSummary, error)
}

var ErrInvalidUser = errors.New("invalid_user")
