// Package ingest is the intake surface called by the upload routes.
//
// Submit normalizes and buffers one event; SubmitBatch normalizes a capped
// batch all-or-nothing and requests an immediate flush. Buffering success is
// decoupled from durability: a submit that returned a record is done from the
// caller's point of view, and flush failures are the coordinator's problem.
package ingest

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mkarling/warden/internal/buffer"
	"github.com/mkarling/warden/internal/detect"
	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/flush"
	"github.com/mkarling/warden/internal/logging"
)

// MaxBatchSize caps SubmitBatch.
const MaxBatchSize = 1000

// Service accepts raw events and feeds the ingestion buffer.
type Service struct {
	buf   *buffer.Buffer
	coord *flush.Coordinator

	running atomic.Bool
	log     *slog.Logger

	// Statistics
	submitted atomic.Int64
	rejected  atomic.Int64
	batches   atomic.Int64
}

// New creates the intake service.
func New(buf *buffer.Buffer, coord *flush.Coordinator) *Service {
	return &Service{
		buf:   buf,
		coord: coord,
		log:   logging.Component("ingest"),
	}
}

// Start accepts submissions.
func (s *Service) Start() {
	s.running.Store(true)
}

// Stop rejects further submissions. In-flight buffered records are the
// coordinator's to flush.
func (s *Service) Stop() {
	s.running.Store(false)
}

// Submit normalizes one raw event and buffers it.
func (s *Service) Submit(raw detect.RawEvent) (detect.Record, error) {
	if !s.running.Load() {
		return detect.Record{}, errors.ErrNotRunning
	}

	rec, err := detect.Normalize(raw)
	if err != nil {
		s.rejected.Add(1)
		s.log.Debug("event rejected", "device_id", raw.DeviceID, "error", err)
		return detect.Record{}, err
	}

	s.buf.Append(rec)
	s.submitted.Add(1)
	s.coord.Notify()

	return rec, nil
}

// SubmitBatch normalizes up to MaxBatchSize raw events. Normalization is
// all-or-nothing: one invalid element fails the whole batch, identifying the
// offending index, and nothing is buffered. On success all records are
// buffered and an immediate flush is requested.
func (s *Service) SubmitBatch(raws []detect.RawEvent) ([]detect.Record, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}

	if len(raws) == 0 {
		return nil, errors.ErrBatchEmpty
	}
	if len(raws) > MaxBatchSize {
		s.rejected.Add(int64(len(raws)))
		return nil, fmt.Errorf("%d events (max %d): %w", len(raws), MaxBatchSize, errors.ErrBatchTooLarge)
	}

	recs := make([]detect.Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := detect.Normalize(raw)
		if err != nil {
			s.rejected.Add(int64(len(raws)))
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		recs = append(recs, rec)
	}

	s.buf.AppendBatch(recs)
	s.submitted.Add(int64(len(recs)))
	s.batches.Add(1)
	s.coord.ForceFlush()
	s.log.Debug("batch accepted", "events", len(recs))

	return recs, nil
}

// Stats returns intake statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Running:   s.running.Load(),
		Submitted: s.submitted.Load(),
		Rejected:  s.rejected.Load(),
		Batches:   s.batches.Load(),
	}
}

// Stats holds intake statistics.
type Stats struct {
	Running   bool
	Submitted int64
	Rejected  int64
	Batches   int64
}
