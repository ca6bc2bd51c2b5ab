// Package query serves the read side: risk distribution over a date window,
// per-device violation ranking, filtered record listing, and the dashboard
// overview. Inputs are validated and defaulted here so both store variants
// see the same normalized parameters.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/logging"
	"github.com/mkarling/warden/internal/store"
)

const (
	// DefaultWindowDays is the distribution window when no dates are given.
	DefaultWindowDays = 7

	// DefaultRankingLimit caps the device ranking when no limit is given.
	DefaultRankingLimit = 10

	// DefaultPageSize is the listing page size when none is given.
	DefaultPageSize = 20

	dateLayout = "2006-01-02"
)

// Options configures the query service.
type Options struct {
	// Timeout bounds each query against the store.
	Timeout time.Duration
}

// DefaultOptions returns the default query options.
func DefaultOptions() Options {
	return Options{Timeout: 30 * time.Second}
}

// Overview is the dashboard summary: today's risk distribution plus the top
// offending devices.
type Overview struct {
	Date       string             `json:"date"`
	High       int                `json:"high"`
	Medium     int                `json:"medium"`
	Low        int                `json:"low"`
	Total      int                `json:"total"`
	TopDevices []store.DeviceRank `json:"top_devices"`
}

// Service answers aggregation and listing queries.
type Service struct {
	store store.Store
	opts  Options
	log   *slog.Logger

	// now is overridable for tests.
	now func() time.Time
}

// New creates the query service over the given store.
func New(st store.Store, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Service{
		store: st,
		opts:  opts,
		log:   logging.Component("query"),
		now:   time.Now,
	}
}

// RiskDistribution returns per-date risk level counts over [startDate,
// endDate], both inclusive. Empty dates default to the trailing
// DefaultWindowDays window ending today.
func (s *Service) RiskDistribution(ctx context.Context, startDate, endDate string) ([]store.RiskBucket, error) {
	start, end, err := s.resolveWindow(startDate, endDate)
	if err != nil {
		return nil, err
	}

	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	return s.store.RiskDistribution(qctx, start, end)
}

// DeviceRanking returns devices ordered by violation count. A non-positive
// limit defaults to DefaultRankingLimit.
func (s *Service) DeviceRanking(ctx context.Context, limit int) ([]store.DeviceRank, error) {
	if limit <= 0 {
		limit = DefaultRankingLimit
	}

	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	return s.store.DeviceRanking(qctx, limit)
}

// Records returns one page of records matching the filter, newest first.
// Non-positive page defaults to 1; non-positive pageSize to DefaultPageSize.
func (s *Service) Records(ctx context.Context, f store.Filter, page, pageSize int) (*store.RecordPage, error) {
	if err := validateFilterDates(f); err != nil {
		return nil, err
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	return s.store.Records(qctx, f, page, pageSize)
}

// Overview returns today's distribution and the top five devices. Either
// query failing fails the overview.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	today := s.now().UTC().Format(dateLayout)

	qctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	buckets, err := s.store.RiskDistribution(qctx, today, today)
	if err != nil {
		return Overview{}, err
	}

	top, err := s.store.DeviceRanking(qctx, 5)
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{Date: today, TopDevices: top}
	for _, b := range buckets {
		if b.Date == today {
			ov.High = b.High
			ov.Medium = b.Medium
			ov.Low = b.Low
			ov.Total = b.Total
		}
	}
	if ov.TopDevices == nil {
		ov.TopDevices = []store.DeviceRank{}
	}
	return ov, nil
}

// resolveWindow validates the given dates and fills in the defaults: end
// defaults to today, start to end minus six days.
func (s *Service) resolveWindow(startDate, endDate string) (string, string, error) {
	var end time.Time
	if endDate == "" {
		end = s.now().UTC()
		endDate = end.Format(dateLayout)
	} else {
		var err error
		end, err = time.Parse(dateLayout, endDate)
		if err != nil {
			return "", "", fmt.Errorf("end_date %q: %w", endDate, errors.ErrInvalidDate)
		}
	}

	if startDate == "" {
		startDate = end.AddDate(0, 0, -(DefaultWindowDays - 1)).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, startDate); err != nil {
		return "", "", fmt.Errorf("start_date %q: %w", startDate, errors.ErrInvalidDate)
	}

	if startDate > endDate {
		return "", "", fmt.Errorf("start_date %s after end_date %s: %w", startDate, endDate, errors.ErrInvalidDate)
	}
	return startDate, endDate, nil
}

func validateFilterDates(f store.Filter) error {
	if f.StartDate != "" {
		if _, err := time.Parse(dateLayout, f.StartDate); err != nil {
			return fmt.Errorf("start_date %q: %w", f.StartDate, errors.ErrInvalidDate)
		}
	}
	if f.EndDate != "" {
		if _, err := time.Parse(dateLayout, f.EndDate); err != nil {
			return fmt.Errorf("end_date %q: %w", f.EndDate, errors.ErrInvalidDate)
		}
	}
	return nil
}
