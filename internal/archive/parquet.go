// Package archive writes records trimmed off the file log's retention
// ceiling into Parquet files, so bounded retention does not mean losing the
// history outright. Archiving is best effort by contract: the ceiling trim
// proceeds whether or not the archive write succeeds.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/mkarling/warden/internal/detect"
)

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Row is a detection record in Parquet format.
type Row struct {
	ID          string   `parquet:"id,zstd"`
	DeviceID    string   `parquet:"device_id,zstd"`
	RiskLevel   string   `parquet:"risk_level,zstd"`
	RiskContent string   `parquet:"risk_content,optional,zstd"`
	HitKeywords []string `parquet:"hit_keywords,list"`
	EngineType  string   `parquet:"engine_type,zstd"`
	CreatedAt   string   `parquet:"created_at"`
}

// RecordToRow converts a Record to a Row.
func RecordToRow(r *detect.Record) Row {
	return Row{
		ID:          r.ID,
		DeviceID:    r.DeviceID,
		RiskLevel:   string(r.RiskLevel),
		RiskContent: r.RiskContent,
		HitKeywords: r.HitKeywords,
		EngineType:  r.EngineType,
		CreatedAt:   r.CreatedAt,
	}
}

// RowToRecord converts a Row back to a Record.
func RowToRecord(row *Row) detect.Record {
	keywords := row.HitKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return detect.Record{
		ID:          row.ID,
		DeviceID:    row.DeviceID,
		RiskLevel:   detect.RiskLevel(row.RiskLevel),
		RiskContent: row.RiskContent,
		HitKeywords: keywords,
		EngineType:  row.EngineType,
		CreatedAt:   row.CreatedAt,
	}
}

// Writer appends trimmed record batches to dated Parquet files in a
// directory. Each Archive call produces one file.
type Writer struct {
	mu          sync.Mutex
	dir         string
	compression CompressionType
	filesOut    int64
	rowsOut     int64

	// now is overridable for tests.
	now func() time.Time
}

// NewWriter creates an archive writer rooted at dir.
func NewWriter(dir string, compression CompressionType) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Writer{
		dir:         dir,
		compression: compression,
		now:         time.Now,
	}, nil
}

// Archive writes one batch of trimmed records to a new Parquet file.
func (w *Writer) Archive(recs []detect.Record) error {
	if len(recs) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Name by the oldest record's date plus a wall-clock suffix so repeated
	// trims on the same day never collide.
	name := fmt.Sprintf("%s_%d.parquet", detect.DateOf(recs[0].CreatedAt), w.now().UnixNano())
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}

	writer := parquet.NewGenericWriter[Row](f, parquet.Compression(getCompression(w.compression)))

	rows := make([]Row, len(recs))
	for i := range recs {
		rows[i] = RecordToRow(&recs[i])
	}

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write archive rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("close archive writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive file: %w", err)
	}

	w.filesOut++
	w.rowsOut += int64(len(rows))
	return nil
}

// Stats returns archive statistics.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{Files: w.filesOut, Rows: w.rowsOut}
}

// Stats holds archive statistics.
type Stats struct {
	Files int64
	Rows  int64
}

// ReadFile loads all records from one archive file. Used by tests and
// operator tooling; the query path never reads archives.
func ReadFile(path string) ([]detect.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	var records []detect.Record
	rows := make([]Row, 64)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			records = append(records, RowToRecord(&rows[i]))
		}
		if err != nil {
			break
		}
	}

	return records, nil
}
