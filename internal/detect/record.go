// Package detect defines the canonical detection record and its
// normalization rules. Records enter the system as untrusted RawEvents from
// edge collectors and leave normalization immutable.
package detect

import "time"

// RiskLevel classifies the severity of a detection.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Valid returns true if the level is one of the fixed enum values.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskHigh, RiskMedium, RiskLow:
		return true
	default:
		return false
	}
}

// String returns the level as its wire representation.
func (l RiskLevel) String() string {
	return string(l)
}

// Record is one observed security event after normalization.
// Records are immutable once created; every persisted record has a non-empty
// ID, DeviceID and a valid RiskLevel.
type Record struct {
	// ID uniquely identifies the record. Generated at normalization time:
	// millisecond-timestamp prefix plus a UUID suffix, so concurrent
	// normalization never collides.
	ID string `json:"id"`

	// DeviceID identifies the reporting endpoint.
	DeviceID string `json:"device_id"`

	// RiskLevel is the severity classification.
	RiskLevel RiskLevel `json:"risk_level"`

	// RiskContent is a free-text summary of what was flagged.
	RiskContent string `json:"risk_content"`

	// HitKeywords are the keywords that triggered the detection, in hit order.
	HitKeywords []string `json:"hit_keywords"`

	// EngineType names the detection engine ("keyword", "ml", ...).
	EngineType string `json:"engine_type"`

	// CreatedAt is the event time as an RFC 3339 string. Stored as a string
	// so that date bucketing and ordering are byte-identical across store
	// variants.
	CreatedAt string `json:"created_at"`
}

// Date returns the calendar date (YYYY-MM-DD) of the record for bucketing.
func (r *Record) Date() string {
	return DateOf(r.CreatedAt)
}

// CreatedTime parses CreatedAt back into a time.Time.
func (r *Record) CreatedTime() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.CreatedAt)
}

// DateOf extracts the YYYY-MM-DD prefix of an RFC 3339 timestamp.
func DateOf(createdAt string) string {
	if len(createdAt) < 10 {
		return createdAt
	}
	return createdAt[:10]
}

// RawEvent is an unvalidated event as submitted by an edge collector.
type RawEvent struct {
	DeviceID    string   `json:"device_id"`
	RiskLevel   string   `json:"risk_level"`
	RiskContent string   `json:"risk_content"`
	HitKeywords []string `json:"hit_keywords"`
	EngineType  string   `json:"engine_type"`

	// Timestamp is the collector-supplied event time (RFC 3339). Empty means
	// "use normalization time".
	Timestamp string `json:"timestamp"`
}
