// Package flush decides when the ingestion buffer is drained and drives the
// durable write to the store.
//
// A flush is triggered by any of: the buffer reaching the size threshold, the
// periodic interval elapsing, or an explicit request (batch upload, graceful
// shutdown). Only one flush is ever in flight; a failed insert puts the
// drained batch back at the front of the buffer so the next attempt retries
// the same records first, preserving arrival order.
package flush

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/mkarling/warden/internal/buffer"
	"github.com/mkarling/warden/internal/detect"
	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/logging"
)

// Inserter is the slice of the store the coordinator needs.
type Inserter interface {
	InsertBatch(ctx context.Context, recs []detect.Record) error
}

// Options configures the coordinator.
type Options struct {
	// BufferSize is the size threshold that triggers a flush.
	BufferSize int

	// Interval is the time threshold between flushes.
	Interval time.Duration

	// InsertTimeout bounds one insert attempt against the store.
	InsertTimeout time.Duration
}

// DefaultOptions returns the default thresholds: 100 records or 10 seconds.
func DefaultOptions() Options {
	return Options{
		BufferSize:    100,
		Interval:      10 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// Coordinator drains the buffer into the store.
type Coordinator struct {
	buf   *buffer.Buffer
	store Inserter
	opts  Options

	// flushMu serializes flushes across the size-, time- and
	// explicit-trigger paths.
	flushMu sync.Mutex

	lastMu    sync.Mutex
	lastFlush time.Time

	flushCh chan struct{}
	log     *slog.Logger

	// Statistics
	flushes         atomic.Int64
	failures        atomic.Int64
	recordsFlushed  atomic.Int64
	recordsRequeued atomic.Int64
	recordsLost     atomic.Int64

	sketchMu sync.Mutex
	sketch   *ddsketch.DDSketch
}

// New creates a coordinator over the given buffer and store.
func New(buf *buffer.Buffer, store Inserter, opts Options) *Coordinator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.InsertTimeout <= 0 {
		opts.InsertTimeout = DefaultOptions().InsertTimeout
	}

	c := &Coordinator{
		buf:       buf,
		store:     store,
		opts:      opts,
		flushCh:   make(chan struct{}, 1),
		lastFlush: time.Now(),
		log:       logging.Component("flush"),
	}

	// 1% relative accuracy is plenty for latency percentiles.
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		c.sketch = sketch
	}

	return c
}

// Run drives time- and request-triggered flushes until ctx is cancelled.
// The final flush at shutdown is FinalFlush's job, not Run's.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.flush(context.Background())
		case <-c.flushCh:
			c.flush(context.Background())
		}
	}
}

// Notify checks the size threshold. Called after every append; cheap enough
// that the submit path does not batch these checks.
func (c *Coordinator) Notify() {
	if c.buf.Len() >= c.opts.BufferSize {
		c.ForceFlush()
	}
}

// ForceFlush requests an asynchronous flush.
func (c *Coordinator) ForceFlush() {
	select {
	case c.flushCh <- struct{}{}:
	default:
		// Flush already pending
	}
}

// Flush runs one synchronous flush attempt.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.flush(ctx)
}

// flush drains the buffer and writes the batch. On failure the batch goes
// back to the front of the buffer and lastFlush does not advance, so the
// next timer tick retries promptly.
func (c *Coordinator) flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	batch := c.buf.DrainAll()
	if len(batch) == 0 {
		return nil
	}

	ictx, cancel := context.WithTimeout(ctx, c.opts.InsertTimeout)
	defer cancel()

	start := time.Now()
	err := c.store.InsertBatch(ictx, batch)
	c.observeLatency(time.Since(start))

	if err != nil {
		c.buf.Requeue(batch)
		c.failures.Add(1)
		c.recordsRequeued.Add(int64(len(batch)))
		c.log.Error("flush failed, batch requeued", "records", len(batch), "error", err)
		return fmt.Errorf("insert %d records: %v: %w", len(batch), err, errors.ErrFlushFailed)
	}

	c.lastMu.Lock()
	c.lastFlush = time.Now()
	c.lastMu.Unlock()

	c.flushes.Add(1)
	c.recordsFlushed.Add(int64(len(batch)))
	c.log.Debug("flush completed", "records", len(batch), "took", time.Since(start))
	return nil
}

// FinalFlush makes one last flush attempt at shutdown and returns the number
// of records that could not be persisted. Those records are lost; the loss
// is counted and logged, never hidden.
func (c *Coordinator) FinalFlush(ctx context.Context) int {
	if err := c.flush(ctx); err != nil {
		c.log.Error("final flush attempt failed", "error", err)
	}

	lost := c.buf.Len()
	if lost > 0 {
		c.recordsLost.Add(int64(lost))
		c.log.Warn("records lost at shutdown", "records", lost)
	}
	return lost
}

// LastFlush returns the time of the last successful flush.
func (c *Coordinator) LastFlush() time.Time {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.lastFlush
}

func (c *Coordinator) observeLatency(d time.Duration) {
	c.sketchMu.Lock()
	defer c.sketchMu.Unlock()
	if c.sketch != nil {
		c.sketch.Add(float64(d.Milliseconds()))
	}
}

func (c *Coordinator) latencyQuantile(q float64) float64 {
	c.sketchMu.Lock()
	defer c.sketchMu.Unlock()
	if c.sketch == nil || c.sketch.GetCount() == 0 {
		return 0
	}
	v, err := c.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}

// Stats returns coordinator statistics.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Flushes:         c.flushes.Load(),
		Failures:        c.failures.Load(),
		RecordsFlushed:  c.recordsFlushed.Load(),
		RecordsRequeued: c.recordsRequeued.Load(),
		RecordsLost:     c.recordsLost.Load(),
		LastFlush:       c.LastFlush(),
		LatencyP50Ms:    c.latencyQuantile(0.50),
		LatencyP95Ms:    c.latencyQuantile(0.95),
		LatencyP99Ms:    c.latencyQuantile(0.99),
	}
}

// Stats holds coordinator statistics.
type Stats struct {
	Flushes         int64
	Failures        int64
	RecordsFlushed  int64
	RecordsRequeued int64
	RecordsLost     int64
	LastFlush       time.Time
	LatencyP50Ms    float64
	LatencyP95Ms    float64
	LatencyP99Ms    float64
}
