// Package buffer provides the in-memory staging area for normalized records
// awaiting durable write.
//
// Unlike a fixed-capacity ring, the buffer grows as needed: Append must never
// fail or block, because submit calls succeed once buffered regardless of
// store health. Boundedness comes from the flush coordinator draining it on
// size and time thresholds, not from dropping records.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/mkarling/warden/internal/detect"
)

// Buffer is a thread-safe FIFO staging queue for detection records.
// It uses a simple mutex-based approach for correctness.
type Buffer struct {
	mu      sync.Mutex
	records []detect.Record

	// Statistics
	appendCount  atomic.Int64
	drainCount   atomic.Int64
	requeueCount atomic.Int64
}

// New creates an empty buffer with room for the expected flush batch size.
func New(capacityHint int) *Buffer {
	if capacityHint <= 0 {
		capacityHint = 128
	}
	return &Buffer{
		records: make([]detect.Record, 0, capacityHint),
	}
}

// Append adds a record to the end of the queue. It always succeeds.
func (b *Buffer) Append(rec detect.Record) {
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()

	b.appendCount.Add(1)
}

// AppendBatch adds records to the end of the queue, preserving their order.
func (b *Buffer) AppendBatch(recs []detect.Record) {
	if len(recs) == 0 {
		return
	}

	b.mu.Lock()
	b.records = append(b.records, recs...)
	b.mu.Unlock()

	b.appendCount.Add(int64(len(recs)))
}

// DrainAll atomically removes and returns all currently held records,
// leaving the buffer empty. The returned slice is separate memory: appends
// arriving while the drained batch is being written do not touch it.
func (b *Buffer) DrainAll() []detect.Record {
	b.mu.Lock()
	drained := b.records
	b.records = make([]detect.Record, 0, cap(drained))
	b.mu.Unlock()

	b.drainCount.Add(int64(len(drained)))
	return drained
}

// Requeue merges a previously drained batch back to the front of the queue,
// ahead of any records appended since the drain. Arrival order within the
// batch is preserved, so the next flush retries the same records first.
func (b *Buffer) Requeue(batch []detect.Record) {
	if len(batch) == 0 {
		return
	}

	b.mu.Lock()
	merged := make([]detect.Record, 0, len(batch)+len(b.records))
	merged = append(merged, batch...)
	merged = append(merged, b.records...)
	b.records = merged
	b.mu.Unlock()

	b.requeueCount.Add(int64(len(batch)))
}

// Len returns the current number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	pending := len(b.records)
	b.mu.Unlock()

	return Stats{
		Pending:  pending,
		Appended: b.appendCount.Load(),
		Drained:  b.drainCount.Load(),
		Requeued: b.requeueCount.Load(),
	}
}

// Stats holds buffer statistics.
type Stats struct {
	Pending  int
	Appended int64
	Drained  int64
	Requeued int64
}
