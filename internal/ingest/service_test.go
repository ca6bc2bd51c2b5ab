package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mkarling/warden/internal/buffer"
	"github.com/mkarling/warden/internal/detect"
	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/flush"
)

func newService(t *testing.T) (*Service, *buffer.Buffer, *flush.Coordinator) {
	t.Helper()
	buf := buffer.New(128)
	coord := flush.New(buf, nopInserter{}, flush.Options{BufferSize: 100, Interval: time.Hour})
	svc := New(buf, coord)
	svc.Start()
	return svc, buf, coord
}

type nopInserter struct{}

func (nopInserter) InsertBatch(ctx context.Context, recs []detect.Record) error { return nil }

func TestSubmit_BuffersNormalizedRecord(t *testing.T) {
	svc, buf, _ := newService(t)

	rec, err := svc.Submit(detect.RawEvent{DeviceID: "PC-001", RiskLevel: "high"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt == "" {
		t.Errorf("record not normalized: %+v", rec)
	}
	if rec.EngineType != detect.DefaultEngineType {
		t.Errorf("engine_type not defaulted: %q", rec.EngineType)
	}
	if buf.Len() != 1 {
		t.Errorf("record not buffered, len=%d", buf.Len())
	}
	if st := svc.Stats(); st.Submitted != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSubmit_InvalidEventRejected(t *testing.T) {
	svc, buf, _ := newService(t)

	_, err := svc.Submit(detect.RawEvent{RiskLevel: "high"})
	if !errors.Is(err, errors.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if buf.Len() != 0 {
		t.Error("rejected event must not be buffered")
	}
	if st := svc.Stats(); st.Rejected != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSubmit_NotRunning(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Stop()

	if _, err := svc.Submit(detect.RawEvent{DeviceID: "PC-001", RiskLevel: "low"}); !errors.Is(err, errors.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, err := svc.SubmitBatch([]detect.RawEvent{{DeviceID: "PC-001", RiskLevel: "low"}}); !errors.Is(err, errors.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestSubmitBatch_AllOrNothing(t *testing.T) {
	svc, buf, _ := newService(t)

	raws := []detect.RawEvent{
		{DeviceID: "PC-001", RiskLevel: "high"},
		{DeviceID: "PC-002", RiskLevel: "nuclear"},
		{DeviceID: "PC-003", RiskLevel: "low"},
	}
	_, err := svc.SubmitBatch(raws)
	if !errors.Is(err, errors.ErrInvalidRiskLevel) {
		t.Fatalf("expected ErrInvalidRiskLevel, got %v", err)
	}
	// The error identifies the offending element.
	if !strings.HasPrefix(err.Error(), "event 1:") {
		t.Errorf("error should name the offending index: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("invalid batch must buffer nothing, len=%d", buf.Len())
	}
}

func TestSubmitBatch_SuccessBuffersAllAndRequestsFlush(t *testing.T) {
	svc, buf, _ := newService(t)

	raws := make([]detect.RawEvent, 5)
	for i := range raws {
		raws[i] = detect.RawEvent{DeviceID: fmt.Sprintf("PC-%03d", i), RiskLevel: "medium"}
	}

	recs, err := svc.SubmitBatch(raws)
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	if buf.Len() != 5 {
		t.Errorf("all records should be buffered, len=%d", buf.Len())
	}

	seen := make(map[string]bool)
	for _, r := range recs {
		if seen[r.ID] {
			t.Errorf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestSubmitBatch_SizeLimits(t *testing.T) {
	svc, _, _ := newService(t)

	if _, err := svc.SubmitBatch(nil); !errors.Is(err, errors.ErrBatchEmpty) {
		t.Errorf("expected ErrBatchEmpty, got %v", err)
	}

	raws := make([]detect.RawEvent, MaxBatchSize+1)
	for i := range raws {
		raws[i] = detect.RawEvent{DeviceID: "PC-001", RiskLevel: "low"}
	}
	if _, err := svc.SubmitBatch(raws); !errors.Is(err, errors.ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}

	// Exactly at the cap is accepted.
	if _, err := svc.SubmitBatch(raws[:MaxBatchSize]); err != nil {
		t.Errorf("batch at the cap should be accepted: %v", err)
	}
}
