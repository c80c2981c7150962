// Package domain contains persistence models for raw health telemetry.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DataType enumerates the telemetry sample kinds the engine stores.
type DataType string

const (
	DataTypeGlucose      DataType = "glucose"
	DataTypeStepCount    DataType = "step_count"
	DataTypeActiveEnergy DataType = "active_energy"
	DataTypeDistance     DataType = "distance"
	DataTypeSleep        DataType = "sleep"
	DataTypeWorkout      DataType = "workout"
	DataTypeHeartRate    DataType = "heart_rate"
)

// IsSleep reports whether records of this type feed the sleep reconstructor.
func (t DataType) IsSleep() bool { return t == DataTypeSleep }

// MetadataKeyTimeZone is the metadata key carrying the sample's originating
// IANA time zone, when the source reported one.
const MetadataKeyTimeZone = "time_zone"

// TelemetryRecord stores a single observed or computed measurement.
//
// (UserID, SampleIdentity) is unique in the archive: re-delivery of the same
// identity updates value, unit, timestamps and provenance but never creates a
// duplicate row.
type TelemetryRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	UserID         snowflake.ID      `gorm:"not null;uniqueIndex:ux_archive_identity,priority:1;index:ix_archive_user_type,priority:1"`
	DataType       DataType          `gorm:"type:text;not null;index:ix_archive_user_type,priority:2"`
	SubType        string            `gorm:"type:text"`
	ValueNum       *float64          ``
	ValueText      string            `gorm:"type:text"`
	Unit           string            `gorm:"type:text"`
	StartTS        time.Time         `gorm:"not null"`
	EndTS          time.Time         `gorm:"not null"`
	SourceName     string            `gorm:"type:text"`
	DeviceName     string            `gorm:"type:text"`
	SampleIdentity string            `gorm:"type:text;not null;uniqueIndex:ux_archive_identity,priority:2"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TelemetryRecord) TableName() string { return "health_data_archive" }

// DisplayRecord mirrors TelemetryRecord in the rolling display window. The
// display table is a derived cache: each sync fully replaces the rows for the
// (user, data type) pairs it touched, so rows carry no uniqueness constraint
// on the sample identity the way archive rows do.
type DisplayRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	UserID         snowflake.ID      `gorm:"not null;index:ix_display_user_type,priority:1"`
	DataType       DataType          `gorm:"type:text;not null;index:ix_display_user_type,priority:2"`
	SubType        string            `gorm:"type:text"`
	ValueNum       *float64          ``
	ValueText      string            `gorm:"type:text"`
	Unit           string            `gorm:"type:text"`
	StartTS        time.Time         `gorm:"not null"`
	EndTS          time.Time         `gorm:"not null"`
	SourceName     string            `gorm:"type:text"`
	DeviceName     string            `gorm:"type:text"`
	SampleIdentity string            `gorm:"type:text;not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DisplayRecord) TableName() string { return "health_data_display" }

// ToDisplay copies an archive record into the display projection.
func (r TelemetryRecord) ToDisplay() DisplayRecord {
	return DisplayRecord{
		ID:             r.ID,
		UserID:         r.UserID,
		DataType:       r.DataType,
		SubType:        r.SubType,
		ValueNum:       r.ValueNum,
		ValueText:      r.ValueText,
		Unit:           r.Unit,
		StartTS:        r.StartTS,
		EndTS:          r.EndTS,
		SourceName:     r.SourceName,
		DeviceName:     r.DeviceName,
		SampleIdentity: r.SampleIdentity,
		Metadata:       r.Metadata,
	}
}
