// Package engine assembles the store, buffer, flush coordinator, intake and
// query services from configuration and manages their shared lifecycle. The
// store variant is selected once at construction; everything downstream works
// against the store interface.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mkarling/warden/internal/archive"
	"github.com/mkarling/warden/internal/buffer"
	"github.com/mkarling/warden/internal/config"
	"github.com/mkarling/warden/internal/detect"
	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/flush"
	"github.com/mkarling/warden/internal/ingest"
	"github.com/mkarling/warden/internal/logging"
	"github.com/mkarling/warden/internal/query"
	"github.com/mkarling/warden/internal/store"
	"github.com/mkarling/warden/internal/store/duck"
	"github.com/mkarling/warden/internal/store/filelog"
)

// Engine is the assembled detection event engine.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	store    store.Store
	buf      *buffer.Buffer
	coord    *flush.Coordinator
	intake   *ingest.Service
	queries  *query.Service
	archiver *archive.Writer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New builds an engine from the configuration. The store is opened here;
// Start only launches the background flush loop.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg: cfg,
		log: logging.Component("engine"),
	}

	if cfg.Archive.Enabled {
		w, err := archive.NewWriter(cfg.Archive.Dir, archive.ParseCompressionType(cfg.Archive.Compression))
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		e.archiver = w
	}

	st, err := e.openStore()
	if err != nil {
		return nil, err
	}
	e.store = st

	e.buf = buffer.New(cfg.Ingestion.BufferSize)
	e.coord = flush.New(e.buf, st, flush.Options{
		BufferSize:    cfg.Ingestion.BufferSize,
		Interval:      cfg.Ingestion.FlushInterval,
		InsertTimeout: cfg.Ingestion.InsertTimeout,
	})
	e.intake = ingest.New(e.buf, e.coord)
	e.queries = query.New(st, query.Options{Timeout: cfg.Query.Timeout})

	return e, nil
}

func (e *Engine) openStore() (store.Store, error) {
	switch e.cfg.Backend {
	case config.BackendFileLog:
		opts := filelog.Options{RetentionCeiling: e.cfg.FileLog.RetentionCeiling}
		if e.archiver != nil {
			opts.Archiver = e.archiver
		}
		st, err := filelog.New(e.cfg.FileLog.Path, opts)
		if err != nil {
			return nil, errors.Wrap(err, "open file log")
		}
		return st, nil
	case config.BackendDuckDB:
		st, err := duck.New(duck.Config{
			Path:            e.cfg.DuckDB.Path,
			MaxOpenConns:    e.cfg.DuckDB.MaxOpenConns,
			MaxIdleConns:    e.cfg.DuckDB.MaxIdleConns,
			ConnMaxLifetime: e.cfg.DuckDB.ConnMaxLifetime,
		})
		if err != nil {
			return nil, errors.Wrap(err, "open duckdb")
		}
		return st, nil
	default:
		return nil, fmt.Errorf("backend %q: %w", e.cfg.Backend, errors.ErrInvalidConfig)
	}
}

// Start launches the flush loop and opens intake.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.ErrRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.coord.Run(gctx)
	})

	e.cancel = cancel
	e.group = g
	e.intake.Start()
	e.running = true

	e.log.Info("engine started",
		"backend", e.cfg.Backend,
		"buffer_size", e.cfg.Ingestion.BufferSize,
		"flush_interval", e.cfg.Ingestion.FlushInterval)
	return nil
}

// Stop closes intake, stops the flush loop, makes a final flush attempt and
// closes the store. Records that still cannot be persisted are lost and the
// loss is logged.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return errors.ErrNotRunning
	}
	e.running = false

	e.intake.Stop()
	e.cancel()
	if err := e.group.Wait(); err != nil {
		e.log.Error("flush loop exited with error", "error", err)
	}

	lost := e.coord.FinalFlush(ctx)

	err := e.store.Close()
	if err != nil {
		e.log.Error("store close failed", "error", err)
	}

	e.log.Info("engine stopped", "records_lost", lost)
	return err
}

// Submit ingests one raw event.
func (e *Engine) Submit(raw detect.RawEvent) (detect.Record, error) {
	return e.intake.Submit(raw)
}

// SubmitBatch ingests a batch of raw events.
func (e *Engine) SubmitBatch(raws []detect.RawEvent) ([]detect.Record, error) {
	return e.intake.SubmitBatch(raws)
}

// Flush forces a synchronous flush of the buffer.
func (e *Engine) Flush(ctx context.Context) error {
	return e.coord.Flush(ctx)
}

// RiskDistribution returns per-date risk counts over the window.
func (e *Engine) RiskDistribution(ctx context.Context, startDate, endDate string) ([]store.RiskBucket, error) {
	return e.queries.RiskDistribution(ctx, startDate, endDate)
}

// DeviceRanking returns devices ordered by violation count.
func (e *Engine) DeviceRanking(ctx context.Context, limit int) ([]store.DeviceRank, error) {
	return e.queries.DeviceRanking(ctx, limit)
}

// Records returns one page of filtered records.
func (e *Engine) Records(ctx context.Context, f store.Filter, page, pageSize int) (*store.RecordPage, error) {
	return e.queries.Records(ctx, f, page, pageSize)
}

// Overview returns the dashboard summary.
func (e *Engine) Overview(ctx context.Context) (query.Overview, error) {
	return e.queries.Overview(ctx)
}

// Stats aggregates statistics across the engine's components.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	s := Stats{
		Running: running,
		Backend: e.cfg.Backend,
		Buffer:  e.buf.Stats(),
		Flush:   e.coord.Stats(),
		Intake:  e.intake.Stats(),
	}
	if e.archiver != nil {
		a := e.archiver.Stats()
		s.Archive = &a
	}
	return s
}

// Stats holds engine-wide statistics.
type Stats struct {
	Running bool
	Backend string
	Buffer  buffer.Stats
	Flush   flush.Stats
	Intake  ingest.Stats
	Archive *archive.Stats
}
