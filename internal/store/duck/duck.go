// Package duck implements the analytical store variant on DuckDB.
//
// The backing store is an append-optimized detections table ordered by
// (created_at, device_id); inserts are chunked multi-row statements and the
// aggregate queries are pushed down as grouped range scans. There is no
// retention trimming: all history is kept. Failures are reported to the
// caller, never converted into empty results - insert retries are the flush
// coordinator's job, and a failed query must be distinguishable from "zero
// matching records".
package duck

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/mkarling/warden/internal/detect"
	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/store"
)

// maxRecordsPerInsert bounds the parameter count of one multi-row INSERT.
// 8 columns * 125 rows = 1000 parameters per statement.
const maxRecordsPerInsert = 125

const schema = `
CREATE TABLE IF NOT EXISTS detections (
	id           VARCHAR NOT NULL,
	device_id    VARCHAR NOT NULL,
	risk_level   VARCHAR NOT NULL,
	risk_content VARCHAR,
	hit_keywords VARCHAR,
	engine_type  VARCHAR,
	created_at   VARCHAR NOT NULL,
	created_date VARCHAR NOT NULL
)
`

// Config holds analytical store configuration options.
type Config struct {
	// Path is the database file; empty means in-memory.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store is the analytical store variant.
//
// Store is safe for concurrent use.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// New opens the database, verifies the connection and ensures the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}
	return nil
}

// =============================================================================
// Inserts
// =============================================================================

// InsertBatch bulk-appends records using chunked multi-row INSERTs. A batch
// retried after a partial failure may duplicate rows; deduplication is out
// of scope and retries are owned by the flush coordinator.
func (s *Store) InsertBatch(ctx context.Context, recs []detect.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if err := s.guard(); err != nil {
		return err
	}

	if len(recs) <= maxRecordsPerInsert {
		query, args, err := buildMultiRowInsert(recs)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < len(recs); i += maxRecordsPerInsert {
		end := i + maxRecordsPerInsert
		if end > len(recs) {
			end = len(recs)
		}
		query, args, err := buildMultiRowInsert(recs[i:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// buildMultiRowInsert builds one parameterized multi-row INSERT statement.
func buildMultiRowInsert(recs []detect.Record) (string, []interface{}, error) {
	const columnsPerRow = 8

	args := make([]interface{}, 0, len(recs)*columnsPerRow)

	var query strings.Builder
	query.Grow(150 + len(recs)*20)
	query.WriteString(`INSERT INTO detections (id, device_id, risk_level, risk_content,
		hit_keywords, engine_type, created_at, created_date) VALUES `)

	for i := range recs {
		r := &recs[i]

		keywords, err := encodeKeywords(r.HitKeywords)
		if err != nil {
			return "", nil, fmt.Errorf("encode hit_keywords for %s: %w", r.ID, err)
		}

		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString("(?,?,?,?,?,?,?,?)")

		args = append(args,
			r.ID,
			r.DeviceID,
			string(r.RiskLevel),
			r.RiskContent,
			keywords,
			r.EngineType,
			r.CreatedAt,
			r.Date(),
		)
	}

	return query.String(), args, nil
}

func encodeKeywords(keywords []string) (string, error) {
	if len(keywords) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeKeywords(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(s), &keywords); err != nil {
		return nil, err
	}
	if keywords == nil {
		keywords = []string{}
	}
	return keywords, nil
}

// =============================================================================
// Aggregate queries
// =============================================================================

// RiskDistribution pushes the per-date bucketing down as a grouped scan.
func (s *Store) RiskDistribution(ctx context.Context, startDate, endDate string) ([]store.RiskBucket, error) {
	if err := s.guard(); err != nil {
		return nil, errors.NewQueryFailure("risk distribution", err)
	}

	query := `
		SELECT
			created_date,
			SUM(CASE WHEN risk_level = 'high' THEN 1 ELSE 0 END),
			SUM(CASE WHEN risk_level = 'medium' THEN 1 ELSE 0 END),
			SUM(CASE WHEN risk_level = 'low' THEN 1 ELSE 0 END),
			COUNT(*)
		FROM detections
		WHERE created_date >= ? AND created_date <= ?
		GROUP BY created_date
		ORDER BY created_date
	`

	rows, err := s.db.QueryContext(ctx, query, startDate, endDate)
	if err != nil {
		return nil, errors.NewQueryFailure("risk distribution", err)
	}
	defer rows.Close()

	var buckets []store.RiskBucket
	for rows.Next() {
		var b store.RiskBucket
		var high, medium, low, total int64
		if err := rows.Scan(&b.Date, &high, &medium, &low, &total); err != nil {
			return nil, errors.NewQueryFailure("scan risk bucket", err)
		}
		b.High = int(high)
		b.Medium = int(medium)
		b.Low = int(low)
		b.Total = int(total)
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailure("risk distribution", err)
	}

	return buckets, nil
}

// DeviceRanking pushes the per-device totals down as a grouped scan over the
// entire table. Ties are ordered by earliest first violation then device ID,
// matching the file log variant exactly.
func (s *Store) DeviceRanking(ctx context.Context, limit int) ([]store.DeviceRank, error) {
	if err := s.guard(); err != nil {
		return nil, errors.NewQueryFailure("device ranking", err)
	}

	query := `
		SELECT
			device_id,
			COUNT(*) AS total,
			SUM(CASE WHEN risk_level = 'high' THEN 1 ELSE 0 END),
			SUM(CASE WHEN risk_level = 'medium' THEN 1 ELSE 0 END),
			SUM(CASE WHEN risk_level = 'low' THEN 1 ELSE 0 END),
			MAX(created_at),
			MIN(created_at) AS first_seen
		FROM detections
		GROUP BY device_id
		ORDER BY total DESC, first_seen ASC, device_id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.NewQueryFailure("device ranking", err)
	}
	defer rows.Close()

	var ranking []store.DeviceRank
	for rows.Next() {
		var d store.DeviceRank
		var total, high, medium, low int64
		if err := rows.Scan(&d.DeviceID, &total, &high, &medium, &low, &d.LastViolation, &d.FirstSeen); err != nil {
			return nil, errors.NewQueryFailure("scan device rank", err)
		}
		d.Total = int(total)
		d.High = int(high)
		d.Medium = int(medium)
		d.Low = int(low)
		ranking = append(ranking, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailure("device ranking", err)
	}

	return ranking, nil
}

// Records runs the filtered listing as a counted range scan with LIMIT/OFFSET.
func (s *Store) Records(ctx context.Context, f store.Filter, page, pageSize int) (*store.RecordPage, error) {
	if err := s.guard(); err != nil {
		return nil, errors.NewQueryFailure("records listing", err)
	}

	where, args := buildFilter(f)

	var total int
	countQuery := "SELECT COUNT(*) FROM detections" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, errors.NewQueryFailure("count records", err)
	}

	listQuery := `SELECT id, device_id, risk_level, risk_content, hit_keywords, engine_type, created_at
		FROM detections` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	listArgs := append(append([]interface{}{}, args...), pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, errors.NewQueryFailure("list records", err)
	}
	defer rows.Close()

	records := make([]detect.Record, 0, pageSize)
	for rows.Next() {
		var r detect.Record
		var content, keywords, engine sql.NullString
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.RiskLevel, &content, &keywords, &engine, &r.CreatedAt); err != nil {
			return nil, errors.NewQueryFailure("scan record", err)
		}
		r.RiskContent = content.String
		r.EngineType = engine.String
		r.HitKeywords, err = decodeKeywords(keywords.String)
		if err != nil {
			return nil, errors.NewQueryFailure("decode hit_keywords", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryFailure("list records", err)
	}

	return &store.RecordPage{
		Records:    records,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: store.TotalPages(total, pageSize),
	}, nil
}

// buildFilter builds the conjunctive WHERE clause. Every user-supplied value
// travels as a bound parameter; nothing is interpolated into the query text.
func buildFilter(f store.Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.DeviceID != "" {
		clauses = append(clauses, "contains(device_id, ?)")
		args = append(args, f.DeviceID)
	}
	if f.RiskLevel != "" {
		clauses = append(clauses, "risk_level = ?")
		args = append(args, f.RiskLevel)
	}
	if f.EngineType != "" {
		clauses = append(clauses, "engine_type = ?")
		args = append(args, f.EngineType)
	}
	if f.StartDate != "" {
		clauses = append(clauses, "created_date >= ?")
		args = append(args, f.StartDate)
	}
	if f.EndDate != "" {
		clauses = append(clauses, "created_date <= ?")
		args = append(args, f.EndDate)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, errors.NewQueryFailure("count", err)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM detections").Scan(&n); err != nil {
		return 0, errors.NewQueryFailure("count", err)
	}
	return n, nil
}
