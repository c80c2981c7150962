// Package domain defines the bulk sync orchestration contract.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	telemetrydomain "github.com/vitalsync/vitalsync/internal/telemetry/domain"
)

// IngestRequest carries one bulk delivery of raw samples grouped by data
// type, plus the sync profile selecting batch sizing and retry behavior.
type IngestRequest struct {
	UserID  snowflake.ID
	Payload map[telemetrydomain.DataType][]map[string]any
	Profile string
}

type IngestResult struct {
	RecordsArchived   int                        `json:"records_archived"`
	RecordsDisplayed  int                        `json:"records_displayed"`
	RecordsDropped    int                        `json:"records_dropped"`
	DuplicatesCleaned int                        `json:"duplicates_cleaned"`
	TypesTouched      []telemetrydomain.DataType `json:"types_touched"`
}

type Service interface {
	// Ingest drives a batch of raw payloads through normalization, archive
	// upsert and display projection. Partial progress is committed and
	// idempotent to retry.
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrEmptyPayload = errors.New("empty_payload")
)
