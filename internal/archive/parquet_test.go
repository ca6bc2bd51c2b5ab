package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mkarling/warden/internal/detect"
)

func TestArchive_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, CompressionZstd)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	recs := []detect.Record{
		{
			ID:          "1",
			DeviceID:    "PC-001",
			RiskLevel:   detect.RiskHigh,
			RiskContent: "ID number detected",
			HitKeywords: []string{"id-card"},
			EngineType:  "keyword",
			CreatedAt:   "2025-02-01T08:00:00Z",
		},
		{
			ID:          "2",
			DeviceID:    "PC-002",
			RiskLevel:   detect.RiskLow,
			HitKeywords: []string{},
			EngineType:  "ml",
			CreatedAt:   "2025-02-01T09:00:00Z",
		},
	}

	if err := w.Archive(recs); err != nil {
		t.Fatalf("archive: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 archive file, got %d", len(entries))
	}
	if got := entries[0].Name()[:10]; got != "2025-02-01" {
		t.Errorf("file name should start with the batch date, got %s", entries[0].Name())
	}

	read, err := ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(read) != 2 {
		t.Fatalf("expected 2 records, got %d", len(read))
	}
	if read[0].ID != "1" || read[0].DeviceID != "PC-001" || read[0].RiskLevel != detect.RiskHigh {
		t.Errorf("record 0 mangled: %+v", read[0])
	}
	if len(read[0].HitKeywords) != 1 || read[0].HitKeywords[0] != "id-card" {
		t.Errorf("hit_keywords mangled: %+v", read[0].HitKeywords)
	}

	st := w.Stats()
	if st.Files != 1 || st.Rows != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestArchive_EmptyBatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, CompressionNone)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	if err := w.Archive(nil); err != nil {
		t.Fatalf("empty archive should be a no-op: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("no file should be written for an empty batch")
	}
}

func TestParseCompressionType(t *testing.T) {
	cases := map[string]CompressionType{
		"snappy": CompressionSnappy,
		"zstd":   CompressionZstd,
		"lz4":    CompressionLZ4,
		"gzip":   CompressionGzip,
		"none":   CompressionNone,
		"":       CompressionNone,
		"bogus":  CompressionZstd,
	}
	for in, want := range cases {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", in, got, want)
		}
	}
}
