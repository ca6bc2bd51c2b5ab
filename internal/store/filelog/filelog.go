// Package filelog implements the bounded file log store variant.
//
// The backing store is a single JSON document {"records": [...]} holding the
// most recent records in arrival order. Every flush rewrites the whole
// document (read-modify-write, temp file + rename); the sequence is trimmed
// to the retention ceiling, silently discarding the oldest records. That
// retention loss is a documented bound of this variant, not an error.
// Queries load the full retained sequence and compute in memory, which is
// O(n) by design and acceptable at the default 10,000-record ceiling.
package filelog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mkarling/warden/internal/detect"
	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/logging"
	"github.com/mkarling/warden/internal/store"
)

// DefaultRetentionCeiling is the number of records kept when none is
// configured.
const DefaultRetentionCeiling = 10000

// Archiver receives records as they are trimmed off the retention ceiling.
// Archiving is best effort: a failing archiver never blocks the trim.
type Archiver interface {
	Archive(recs []detect.Record) error
}

// Options configures the file log.
type Options struct {
	// RetentionCeiling is the maximum number of records retained.
	// Defaults to DefaultRetentionCeiling.
	RetentionCeiling int

	// Archiver, if set, receives trimmed records.
	Archiver Archiver
}

// Store is the bounded file log variant.
type Store struct {
	mu      sync.Mutex
	path    string
	ceiling int
	archive Archiver
	closed  bool
	log     *slog.Logger
}

// document is the persisted layout: an ordered sequence under "records".
type document struct {
	Records []detect.Record `json:"records"`
}

// New creates a file log store at path, initializing an empty document if the
// file does not exist.
func New(path string, opts Options) (*Store, error) {
	ceiling := opts.RetentionCeiling
	if ceiling <= 0 {
		ceiling = DefaultRetentionCeiling
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &Store{
		path:    path,
		ceiling: ceiling,
		archive: opts.Archiver,
		log:     logging.Component("filelog"),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(document{Records: []detect.Record{}}); err != nil {
			return nil, fmt.Errorf("init data file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	return s, nil
}

// Close marks the store closed. The document is rewritten on every insert,
// so there is nothing to sync.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// InsertBatch appends the batch, trims to the retention ceiling and rewrites
// the document.
func (s *Store) InsertBatch(ctx context.Context, recs []detect.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStoreClosed
	}

	doc, err := s.load()
	if err != nil {
		return err
	}

	doc.Records = append(doc.Records, recs...)

	var trimmed []detect.Record
	if len(doc.Records) > s.ceiling {
		cut := len(doc.Records) - s.ceiling
		trimmed = doc.Records[:cut]
		doc.Records = doc.Records[cut:]
	}

	if err := s.save(doc); err != nil {
		return err
	}

	if len(trimmed) > 0 {
		s.log.Info("retention ceiling reached", "trimmed", len(trimmed), "retained", len(doc.Records))
		if s.archive != nil {
			if err := s.archive.Archive(trimmed); err != nil {
				// Trim already happened; the ceiling is the contract.
				s.log.Error("archive of trimmed records failed", "error", err, "records", len(trimmed))
			}
		}
	}

	return nil
}

// RiskDistribution computes per-date risk buckets over the retained set.
func (s *Store) RiskDistribution(ctx context.Context, startDate, endDate string) ([]store.RiskBucket, error) {
	recs, err := s.snapshot(ctx)
	if err != nil {
		return nil, errors.NewQueryFailure("risk distribution", err)
	}
	return Distribute(recs, startDate, endDate), nil
}

// DeviceRanking computes the top-limit devices over the retained set.
func (s *Store) DeviceRanking(ctx context.Context, limit int) ([]store.DeviceRank, error) {
	recs, err := s.snapshot(ctx)
	if err != nil {
		return nil, errors.NewQueryFailure("device ranking", err)
	}
	return Rank(recs, limit), nil
}

// Records computes a filtered, paginated listing over the retained set.
func (s *Store) Records(ctx context.Context, f store.Filter, page, pageSize int) (*store.RecordPage, error) {
	recs, err := s.snapshot(ctx)
	if err != nil {
		return nil, errors.NewQueryFailure("records listing", err)
	}
	return List(recs, f, page, pageSize), nil
}

// snapshot loads the retained records under the lock.
func (s *Store) snapshot(ctx context.Context) ([]detect.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Records, nil
}

func (s *Store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return document{}, fmt.Errorf("read data file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("parse data file: %w", err)
	}
	return doc, nil
}

// save fully rewrites the document via a temp file and atomic rename.
func (s *Store) save(doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write data file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// Len returns the number of retained records.
func (s *Store) Len() (int, error) {
	recs, err := s.snapshot(context.Background())
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// =============================================================================
// In-memory aggregation
//
// These are the reference realizations of the aggregation semantics; the
// analytical variant's SQL must order and count identically.
// =============================================================================

// Distribute buckets records by calendar date within the inclusive range.
func Distribute(recs []detect.Record, startDate, endDate string) []store.RiskBucket {
	byDate := make(map[string]*store.RiskBucket)

	for i := range recs {
		date := recs[i].Date()
		if date < startDate || date > endDate {
			continue
		}

		b := byDate[date]
		if b == nil {
			b = &store.RiskBucket{Date: date}
			byDate[date] = b
		}

		switch recs[i].RiskLevel {
		case detect.RiskHigh:
			b.High++
		case detect.RiskMedium:
			b.Medium++
		case detect.RiskLow:
			b.Low++
		}
		b.Total++
	}

	buckets := make([]store.RiskBucket, 0, len(byDate))
	for _, b := range byDate {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Date < buckets[j].Date
	})
	return buckets
}

// Rank computes device violation totals over the whole retained set and
// returns the top limit entries, ordered by total descending, ties by
// earliest first violation then device ID.
func Rank(recs []detect.Record, limit int) []store.DeviceRank {
	byDevice := make(map[string]*store.DeviceRank)

	for i := range recs {
		r := &recs[i]
		d := byDevice[r.DeviceID]
		if d == nil {
			d = &store.DeviceRank{
				DeviceID:      r.DeviceID,
				LastViolation: r.CreatedAt,
				FirstSeen:     r.CreatedAt,
			}
			byDevice[r.DeviceID] = d
		}

		d.Total++
		switch r.RiskLevel {
		case detect.RiskHigh:
			d.High++
		case detect.RiskMedium:
			d.Medium++
		case detect.RiskLow:
			d.Low++
		}
		if r.CreatedAt > d.LastViolation {
			d.LastViolation = r.CreatedAt
		}
		if r.CreatedAt < d.FirstSeen {
			d.FirstSeen = r.CreatedAt
		}
	}

	ranking := make([]store.DeviceRank, 0, len(byDevice))
	for _, d := range byDevice {
		ranking = append(ranking, *d)
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Total != ranking[j].Total {
			return ranking[i].Total > ranking[j].Total
		}
		if ranking[i].FirstSeen != ranking[j].FirstSeen {
			return ranking[i].FirstSeen < ranking[j].FirstSeen
		}
		return ranking[i].DeviceID < ranking[j].DeviceID
	})

	if limit > 0 && len(ranking) > limit {
		ranking = ranking[:limit]
	}
	return ranking
}

// List filters, sorts and paginates records.
func List(recs []detect.Record, f store.Filter, page, pageSize int) *store.RecordPage {
	matched := make([]detect.Record, 0, len(recs))
	for i := range recs {
		if Matches(&recs[i], f) {
			matched = append(matched, recs[i])
		}
	}

	// Newest first; ID descending as a deterministic tie-break.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return &store.RecordPage{
		Records:    matched[start:end],
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: store.TotalPages(total, pageSize),
	}
}

// Matches applies the conjunctive filter to one record.
func Matches(r *detect.Record, f store.Filter) bool {
	if f.DeviceID != "" && !strings.Contains(r.DeviceID, f.DeviceID) {
		return false
	}
	if f.RiskLevel != "" && string(r.RiskLevel) != f.RiskLevel {
		return false
	}
	if f.EngineType != "" && r.EngineType != f.EngineType {
		return false
	}
	date := r.Date()
	if f.StartDate != "" && date < f.StartDate {
		return false
	}
	if f.EndDate != "" && date > f.EndDate {
		return false
	}
	return true
}
