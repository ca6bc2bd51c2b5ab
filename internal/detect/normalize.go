package detect

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mkarling/warden/internal/errors"
)

// DefaultEngineType is assigned when the collector does not name its engine.
const DefaultEngineType = "unknown"

// Normalize validates a raw event and produces the canonical Record.
//
// It fails when device_id is absent or risk_level is not in the enum, and
// defaults hit_keywords, engine_type and created_at. Normalize performs no
// I/O and mutates no shared state; it is safe for concurrent use.
func Normalize(raw RawEvent) (Record, error) {
	if raw.DeviceID == "" {
		return Record{}, errors.NewMissingField("device_id")
	}
	if raw.RiskLevel == "" {
		return Record{}, errors.NewMissingField("risk_level")
	}

	level := RiskLevel(raw.RiskLevel)
	if !level.Valid() {
		return Record{}, fmt.Errorf("%q: %w", raw.RiskLevel, errors.ErrInvalidRiskLevel)
	}

	now := time.Now().UTC()

	createdAt := raw.Timestamp
	if createdAt == "" {
		createdAt = now.Format(time.RFC3339Nano)
	} else if _, err := time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Record{}, fmt.Errorf("%q: %w", raw.Timestamp, errors.ErrInvalidTimestamp)
	}

	keywords := raw.HitKeywords
	if keywords == nil {
		keywords = []string{}
	}

	engine := raw.EngineType
	if engine == "" {
		engine = DefaultEngineType
	}

	return Record{
		ID:          NewID(now),
		DeviceID:    raw.DeviceID,
		RiskLevel:   level,
		RiskContent: raw.RiskContent,
		HitKeywords: keywords,
		EngineType:  engine,
		CreatedAt:   createdAt,
	}, nil
}

// NewID generates a record ID: millisecond-timestamp prefix for rough
// ordering, UUID suffix for collision safety under concurrent calls.
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}
