// Package domain contains the sync audit log models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AttemptKind string

const (
	AttemptKindBulk AttemptKind = "bulk"
	AttemptKindPoll AttemptKind = "poll"
)

type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusFailed     AttemptStatus = "failed"
)

// SyncAttempt records one CGM poll or bulk-sync execution. It is created at
// start, finalized at end, and immutable thereafter.
type SyncAttempt struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	RunID        string        `gorm:"type:text;not null;index"`
	UserID       snowflake.ID  `gorm:"not null;index"`
	ConnectionID *snowflake.ID `gorm:"index"`
	Kind         AttemptKind   `gorm:"type:text;not null"`
	StartedAt    time.Time     `gorm:"not null"`
	FinishedAt   *time.Time    ``
	Fetched      int           `gorm:"not null;default:0"`
	Inserted     int           `gorm:"not null;default:0"`
	Duplicates   int           `gorm:"not null;default:0"`
	Status       AttemptStatus `gorm:"type:text;not null"`
	Error        string        `gorm:"type:text"`
	DurationMS   int64         `gorm:"not null;default:0"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SyncAttempt) TableName() string { return "sync_attempts" }

// Counts carries the outcome totals recorded when an attempt finishes.
type Counts struct {
	Fetched    int
	Inserted   int
	Duplicates int
}
