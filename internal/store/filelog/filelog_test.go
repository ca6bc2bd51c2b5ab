package filelog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mkarling/warden/internal/detect"
	"github.com/mkarling/warden/internal/errors"
	"github.com/mkarling/warden/internal/store"
)

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "detections.json"), opts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(id, device string, level detect.RiskLevel, createdAt string) detect.Record {
	return detect.Record{
		ID:          id,
		DeviceID:    device,
		RiskLevel:   level,
		HitKeywords: []string{},
		EngineType:  "keyword",
		CreatedAt:   createdAt,
	}
}

func TestFileLog_RoundTrip(t *testing.T) {
	s := newStore(t, Options{})
	ctx := context.Background()

	recs := []detect.Record{
		rec("1", "PC-001", detect.RiskHigh, "2025-02-01T08:00:00Z"),
		rec("2", "PC-001", detect.RiskLow, "2025-02-01T09:00:00Z"),
		rec("3", "PC-002", detect.RiskMedium, "2025-02-02T10:00:00Z"),
		rec("4", "PC-002", detect.RiskMedium, "2025-02-03T11:00:00Z"),
		rec("5", "PC-003", detect.RiskHigh, "2025-02-03T12:00:00Z"),
	}
	if err := s.InsertBatch(ctx, recs); err != nil {
		t.Fatalf("insert: %v", err)
	}

	buckets, err := s.RiskDistribution(ctx, "2025-02-01", "2025-02-03")
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}

	want := []store.RiskBucket{
		{Date: "2025-02-01", High: 1, Medium: 0, Low: 1, Total: 2},
		{Date: "2025-02-02", High: 0, Medium: 1, Low: 0, Total: 1},
		{Date: "2025-02-03", High: 1, Medium: 1, Low: 0, Total: 2},
	}
	for i, b := range buckets {
		if b != want[i] {
			t.Errorf("bucket %d: expected %+v, got %+v", i, want[i], b)
		}
	}
}

func TestFileLog_DistributionWindow(t *testing.T) {
	s := newStore(t, Options{})
	ctx := context.Background()

	if err := s.InsertBatch(ctx, []detect.Record{
		rec("1", "PC-001", detect.RiskLow, "2025-01-31T23:59:59Z"),
		rec("2", "PC-001", detect.RiskLow, "2025-02-01T00:00:00Z"),
		rec("3", "PC-001", detect.RiskLow, "2025-02-03T23:59:59Z"),
		rec("4", "PC-001", detect.RiskLow, "2025-02-04T00:00:00Z"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	buckets, err := s.RiskDistribution(ctx, "2025-02-01", "2025-02-03")
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	// Inclusive range, no buckets for empty dates.
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(buckets), buckets)
	}
	if buckets[0].Date != "2025-02-01" || buckets[1].Date != "2025-02-03" {
		t.Errorf("unexpected bucket dates: %+v", buckets)
	}
}

func TestFileLog_DeviceRanking(t *testing.T) {
	s := newStore(t, Options{})
	ctx := context.Background()

	var recs []detect.Record
	add := func(device string, n int, level detect.RiskLevel) {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s-%d", device, i)
			ts := fmt.Sprintf("2025-02-0%dT10:00:0%dZ", (i%3)+1, i%10)
			recs = append(recs, rec(id, device, level, ts))
		}
	}
	add("PC-A", 5, detect.RiskHigh)
	add("PC-B", 3, detect.RiskMedium)
	add("PC-C", 1, detect.RiskLow)

	if err := s.InsertBatch(ctx, recs); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ranking, err := s.DeviceRanking(ctx, 2)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ranking))
	}
	if ranking[0].DeviceID != "PC-A" || ranking[0].Total != 5 {
		t.Errorf("expected PC-A total=5 first, got %+v", ranking[0])
	}
	if ranking[1].DeviceID != "PC-B" || ranking[1].Total != 3 {
		t.Errorf("expected PC-B total=3 second, got %+v", ranking[1])
	}
	if ranking[0].High != 5 {
		t.Errorf("expected PC-A high=5, got %d", ranking[0].High)
	}
	if ranking[0].LastViolation == "" {
		t.Error("last_violation should be set")
	}
}

func TestFileLog_RankingTieBreak(t *testing.T) {
	s := newStore(t, Options{})
	ctx := context.Background()

	// Same totals; PC-Z violated first.
	if err := s.InsertBatch(ctx, []detect.Record{
		rec("1", "PC-Z", detect.RiskLow, "2025-02-01T08:00:00Z"),
		rec("2", "PC-A", detect.RiskLow, "2025-02-01T09:00:00Z"),
		rec("3", "PC-Z", detect.RiskLow, "2025-02-02T08:00:00Z"),
		rec("4", "PC-A", detect.RiskLow, "2025-02-02T09:00:00Z"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ranking, err := s.DeviceRanking(ctx, 10)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranking) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ranking))
	}
	if ranking[0].DeviceID != "PC-Z" {
		t.Errorf("tie should go to the earlier first violation, got %s first", ranking[0].DeviceID)
	}
}

func TestFileLog_RecordsPagination(t *testing.T) {
	s := newStore(t, Options{})
	ctx := context.Background()

	recs := make([]detect.Record, 0, 45)
	for i := 0; i < 45; i++ {
		ts := fmt.Sprintf("2025-02-01T%02d:%02d:00Z", i/60, i%60)
		recs = append(recs, rec(fmt.Sprintf("r%02d", i), "PC-001", detect.RiskLow, ts))
	}
	if err := s.InsertBatch(ctx, recs); err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := s.Records(ctx, store.Filter{}, 3, 20)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(page.Records) != 5 {
		t.Errorf("page 3 of 45/20 should hold 5 records, got %d", len(page.Records))
	}
	if page.Total != 45 || page.TotalPages != 3 {
		t.Errorf("expected total=45 total_pages=3, got %d/%d", page.Total, page.TotalPages)
	}
	if page.Page != 3 || page.PageSize != 20 {
		t.Errorf("page metadata wrong: %+v", page)
	}

	// Newest first: the last inserted record leads page 1.
	first, err := s.Records(ctx, store.Filter{}, 1, 20)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if first.Records[0].ID != "r44" {
		t.Errorf("expected newest record first, got %s", first.Records[0].ID)
	}

	// Past the last page: empty slice, same totals.
	empty, err := s.Records(ctx, store.Filter{}, 4, 20)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(empty.Records) != 0 || empty.Total != 45 {
		t.Errorf("page past end should be empty with totals intact: %+v", empty)
	}
}

func TestFileLog_RecordsFilter(t *testing.T) {
	s := newStore(t, Options{})
	ctx := context.Background()

	if err := s.InsertBatch(ctx, []detect.Record{
		rec("1", "PC-001", detect.RiskHigh, "2025-02-01T08:00:00Z"),
		rec("2", "LAPTOP-7", detect.RiskHigh, "2025-02-01T09:00:00Z"),
		rec("3", "PC-002", detect.RiskLow, "2025-02-02T10:00:00Z"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := s.Records(ctx, store.Filter{DeviceID: "PC", RiskLevel: "high"}, 1, 20)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if page.Total != 1 || page.Records[0].ID != "1" {
		t.Errorf("conjunctive filter failed: %+v", page)
	}

	page, err = s.Records(ctx, store.Filter{StartDate: "2025-02-02", EndDate: "2025-02-02"}, 1, 20)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if page.Total != 1 || page.Records[0].ID != "3" {
		t.Errorf("date filter failed: %+v", page)
	}
}

type captureArchiver struct {
	got []detect.Record
}

func (c *captureArchiver) Archive(recs []detect.Record) error {
	c.got = append(c.got, recs...)
	return nil
}

func TestFileLog_RetentionCeiling(t *testing.T) {
	arch := &captureArchiver{}
	s := newStore(t, Options{RetentionCeiling: 10, Archiver: arch})
	ctx := context.Background()

	recs := make([]detect.Record, 0, 15)
	for i := 0; i < 15; i++ {
		ts := fmt.Sprintf("2025-02-01T10:%02d:00Z", i)
		recs = append(recs, rec(fmt.Sprintf("r%02d", i), "PC-001", detect.RiskLow, ts))
	}
	if err := s.InsertBatch(ctx, recs); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := s.Len()
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 retained, got %d", n)
	}

	// Oldest five were trimmed, and archived in order.
	if len(arch.got) != 5 {
		t.Fatalf("expected 5 archived, got %d", len(arch.got))
	}
	for i, r := range arch.got {
		if r.ID != fmt.Sprintf("r%02d", i) {
			t.Errorf("archive order broken at %d: %s", i, r.ID)
		}
	}

	page, err := s.Records(ctx, store.Filter{}, 1, 20)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if page.Records[len(page.Records)-1].ID != "r05" {
		t.Errorf("oldest retained should be r05, got %s", page.Records[len(page.Records)-1].ID)
	}
}

func TestFileLog_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detections.json")

	s, err := New(path, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.InsertBatch(context.Background(), []detect.Record{
		rec("1", "PC-001", detect.RiskHigh, "2025-02-01T08:00:00Z"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Close()

	reopened, err := New(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Len()
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record after reopen, got %d", n)
	}
}

func TestFileLog_ClosedStore(t *testing.T) {
	s := newStore(t, Options{})
	s.Close()

	err := s.InsertBatch(context.Background(), []detect.Record{
		rec("1", "PC-001", detect.RiskLow, "2025-02-01T08:00:00Z"),
	})
	if !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}

	_, err = s.DeviceRanking(context.Background(), 5)
	if !errors.Is(err, errors.ErrQueryFailed) {
		t.Errorf("query on closed store should fail as query failure, got %v", err)
	}
}
