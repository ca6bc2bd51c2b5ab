// Package store defines the durable-storage capability behind the ingestion
// pipeline and the aggregate queries.
//
// Two variants implement the Store interface: a bounded JSON file log
// (package filelog) and a DuckDB-backed analytical store (package duck). The
// variant is selected once, at engine construction; both must produce
// identical logical results for identical underlying data.
package store

import (
	"context"

	"github.com/mkarling/warden/internal/detect"
)

// Store is the polymorphic durable-storage capability.
type Store interface {
	// InsertBatch durably writes a batch of records. It is not guaranteed to
	// be idempotent on retry: a batch retried after a partial failure may
	// duplicate rows in the analytical variant.
	InsertBatch(ctx context.Context, recs []detect.Record) error

	// RiskDistribution returns one bucket per distinct calendar date in the
	// inclusive [startDate, endDate] range (dates as YYYY-MM-DD strings),
	// sorted ascending by date. Dates with no matching records produce no
	// bucket.
	RiskDistribution(ctx context.Context, startDate, endDate string) ([]RiskBucket, error)

	// DeviceRanking returns the top-limit devices by total violations over
	// the entire retained record set, sorted by total descending. Ties are
	// broken by earliest first violation, then device ID, so both variants
	// order identically.
	DeviceRanking(ctx context.Context, limit int) ([]DeviceRank, error)

	// Records returns the filtered, paginated record listing sorted by
	// created_at descending.
	Records(ctx context.Context, f Filter, page, pageSize int) (*RecordPage, error)

	// Close releases the backing resources. A final flush must have happened
	// before Close; inserts after Close fail.
	Close() error
}

// Filter restricts a record listing. All fields are optional and conjunctive.
type Filter struct {
	// DeviceID matches as a substring of the record's device ID.
	DeviceID string

	// RiskLevel matches exactly.
	RiskLevel string

	// EngineType matches exactly.
	EngineType string

	// StartDate/EndDate bound the record's calendar date inclusively
	// (YYYY-MM-DD).
	StartDate string
	EndDate   string
}

// RiskBucket holds per-risk-level counts for one calendar date.
type RiskBucket struct {
	Date   string `json:"date"`
	High   int    `json:"high"`
	Medium int    `json:"medium"`
	Low    int    `json:"low"`
	Total  int    `json:"total"`
}

// DeviceRank holds violation counts for one device over the retained set.
type DeviceRank struct {
	DeviceID string `json:"device_id"`
	Total    int    `json:"total"`
	High     int    `json:"high"`
	Medium   int    `json:"medium"`
	Low      int    `json:"low"`

	// LastViolation is the maximum created_at observed for the device.
	LastViolation string `json:"last_violation"`

	// FirstSeen is the minimum created_at observed; it is the ranking
	// tie-breaker and not part of the wire shape.
	FirstSeen string `json:"-"`
}

// RecordPage is one page of a filtered listing.
type RecordPage struct {
	Records    []detect.Record `json:"records"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	Total      int             `json:"total"`
	TotalPages int             `json:"total_pages"`
}

// TotalPages computes ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
