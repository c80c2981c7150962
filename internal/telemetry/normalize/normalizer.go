// Package normalize converts heterogeneous source payloads into canonical
// telemetry records before they reach the archive and display stores.
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/vitalsync/vitalsync/internal/telemetry/domain"
	"gorm.io/datatypes"
)

// reservedKeys are payload keys already mapped to named record fields. Any
// other key is retained verbatim in metadata so no information is dropped.
var reservedKeys = map[string]struct{}{
	"uuid":       {},
	"id":         {},
	"value":      {},
	"unit":       {},
	"startDate":  {},
	"endDate":    {},
	"timestamp":  {},
	"date":       {},
	"sourceName": {},
	"sourceId":   {},
	"device":     {},
	"type":       {},
	"subType":    {},
}

var leadingNumber = regexp.MustCompile(`^[-+]?[0-9]+(?:\.[0-9]+)?`)

// timestampLayouts are tried in order. Layouts without an offset are parsed
// as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type Normalizer struct {
	genID *snowflake.Node
}

func New(genID *snowflake.Node) *Normalizer {
	return &Normalizer{genID: genID}
}

// Normalize produces exactly one canonical record from one raw entry, or an
// error when the entry is unusable (no parsable timestamp). The returned
// record always carries a non-empty sample identity so it is upsertable.
func (n *Normalizer) Normalize(userID snowflake.ID, dataType domain.DataType, raw map[string]any) (*domain.TelemetryRecord, error) {
	if raw == nil {
		return nil, domain.ErrUnusableEntry
	}

	record := &domain.TelemetryRecord{
		ID:       n.genID.Generate(),
		UserID:   userID,
		DataType: dataType,
		Metadata: datatypes.JSONMap{},
	}

	if sub, ok := stringValue(raw["subType"]); ok {
		record.SubType = sub
	}
	if unit, ok := stringValue(raw["unit"]); ok {
		record.Unit = unit
	}
	if source, ok := stringValue(raw["sourceName"]); ok {
		record.SourceName = source
	}

	n.applyValue(record, raw["value"])
	n.applyDevice(record, raw["device"])
	record.SampleIdentity = n.sampleIdentity(raw)

	start, end, err := parseInterval(raw)
	if err != nil {
		return nil, err
	}
	record.StartTS = start
	record.EndTS = end

	for key, value := range raw {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		record.Metadata[key] = value
	}

	return record, nil
}

// applyValue accepts numbers as-is and extracts the leading numeric
// substring from strings with an embedded unit ("12.3kcal"). A string with
// no leading number is kept verbatim as text.
func (n *Normalizer) applyValue(record *domain.TelemetryRecord, value any) {
	switch v := value.(type) {
	case nil:
	case float64:
		record.ValueNum = &v
	case float32:
		f := float64(v)
		record.ValueNum = &f
	case int:
		f := float64(v)
		record.ValueNum = &f
	case int64:
		f := float64(v)
		record.ValueNum = &f
	case json.Number:
		if f, err := v.Float64(); err == nil {
			record.ValueNum = &f
		} else {
			record.ValueText = v.String()
		}
	case string:
		trimmed := strings.TrimSpace(v)
		if match := leadingNumber.FindString(trimmed); match != "" {
			if f, err := strconv.ParseFloat(match, 64); err == nil {
				record.ValueNum = &f
				if record.Unit == "" {
					record.Unit = strings.TrimSpace(trimmed[len(match):])
				}
				return
			}
		}
		record.ValueText = trimmed
	default:
		record.ValueText = fmt.Sprintf("%v", v)
	}
}

// applyDevice resolves a human-readable device name from a device
// sub-object, preferring name, then model, then a serialized fallback. The
// whole object is preserved inside metadata.
func (n *Normalizer) applyDevice(record *domain.TelemetryRecord, device any) {
	obj, ok := device.(map[string]any)
	if !ok || len(obj) == 0 {
		return
	}

	if name, ok := stringValue(obj["name"]); ok {
		record.DeviceName = name
	} else if model, ok := stringValue(obj["model"]); ok {
		record.DeviceName = model
	} else if serialized, err := json.Marshal(obj); err == nil {
		record.DeviceName = string(serialized)
	}

	record.Metadata["device"] = obj
}

// sampleIdentity uses the source-supplied unique id when present, otherwise
// generates a fresh one.
func (n *Normalizer) sampleIdentity(raw map[string]any) string {
	if id, ok := stringValue(raw["uuid"]); ok {
		return id
	}
	if id, ok := stringValue(raw["id"]); ok {
		return id
	}
	return uuid.NewString()
}

// parseInterval resolves the record's [start, end] interval. When only a
// single timestamp field is present, start and end are equal.
func parseInterval(raw map[string]any) (time.Time, time.Time, error) {
	start, startOK := parseTimestampField(raw["startDate"])
	end, endOK := parseTimestampField(raw["endDate"])

	if !startOK {
		if single, ok := parseTimestampField(raw["timestamp"]); ok {
			start, startOK = single, true
		} else if single, ok := parseTimestampField(raw["date"]); ok {
			start, startOK = single, true
		}
	}
	if !startOK {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: missing or unparsable start timestamp", domain.ErrInvalidTimestamp)
	}
	if !endOK {
		end = start
	}
	return start, end, nil
}

func parseTimestampField(value any) (time.Time, bool) {
	text, ok := stringValue(value)
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(text)
}

// ParseTimestamp parses an ISO-8601 timestamp. A bare "Z" suffix is treated
// as UTC, and a timestamp with no offset is assumed UTC.
func ParseTimestamp(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func stringValue(value any) (string, bool) {
	text, ok := value.(string)
	if !ok {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}
