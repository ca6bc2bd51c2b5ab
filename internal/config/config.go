// Package config loads and validates the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkarling/warden/internal/errors"
)

// Backend names for Config.Backend.
const (
	BackendFileLog = "filelog"
	BackendDuckDB  = "duckdb"
)

// Config is the top-level daemon configuration.
type Config struct {
	// DataDir is the base directory for all on-disk state.
	DataDir string `yaml:"data_dir"`

	// Backend selects the store variant: "filelog" or "duckdb".
	Backend string `yaml:"backend"`

	Log       LogConfig       `yaml:"log"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	FileLog   FileLogConfig   `yaml:"filelog"`
	DuckDB    DuckDBConfig    `yaml:"duckdb"`
	Query     QueryConfig     `yaml:"query"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// IngestionConfig configures the buffer and flush thresholds.
type IngestionConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	InsertTimeout time.Duration `yaml:"insert_timeout"`
}

// FileLogConfig configures the JSON file store.
type FileLogConfig struct {
	// Path defaults to {data_dir}/detections.json.
	Path string `yaml:"path"`

	// RetentionCeiling caps the number of records kept in the file.
	RetentionCeiling int `yaml:"retention_ceiling"`
}

// DuckDBConfig configures the analytical store.
type DuckDBConfig struct {
	// Path defaults to {data_dir}/warden.duckdb.
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// QueryConfig configures the read side.
type QueryConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures the Parquet archive for retention-trimmed records.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir defaults to {data_dir}/archive.
	Dir string `yaml:"dir"`

	// Compression is one of: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Backend: BackendFileLog,
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Ingestion: IngestionConfig{
			BufferSize:    100,
			FlushInterval: 10 * time.Second,
			InsertTimeout: 30 * time.Second,
		},
		FileLog: FileLogConfig{
			RetentionCeiling: 10000,
		},
		DuckDB: DuckDBConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Query: QueryConfig{
			Timeout: 30 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			Compression: "zstd",
		},
	}
}

// Load reads the configuration from a YAML file. Unset fields fall back to
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in paths derived from DataDir. Callers that override
// DataDir after loading clear the derived paths and call this again.
func (c *Config) ApplyDefaults() {
	if c.FileLog.Path == "" {
		c.FileLog.Path = filepath.Join(c.DataDir, "detections.json")
	}
	if c.DuckDB.Path == "" {
		c.DuckDB.Path = filepath.Join(c.DataDir, "warden.duckdb")
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = filepath.Join(c.DataDir, "archive")
	}
}

// Validate checks the configuration for consistency. All problems are
// collected and reported together.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	if c.DataDir == "" {
		errs.AddMissing("data_dir")
	}

	switch c.Backend {
	case BackendFileLog, BackendDuckDB:
	default:
		errs.AddField("backend", fmt.Sprintf("%q (want %q or %q)", c.Backend, BackendFileLog, BackendDuckDB))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.AddField("log.level", fmt.Sprintf("%q", c.Log.Level))
	}

	if c.Ingestion.BufferSize <= 0 {
		errs.AddField("ingestion.buffer_size", "must be positive")
	}
	if c.Ingestion.FlushInterval <= 0 {
		errs.AddField("ingestion.flush_interval", "must be positive")
	}
	if c.Ingestion.InsertTimeout <= 0 {
		errs.AddField("ingestion.insert_timeout", "must be positive")
	}

	if c.FileLog.RetentionCeiling <= 0 {
		errs.AddField("filelog.retention_ceiling", "must be positive")
	}

	if c.Query.Timeout <= 0 {
		errs.AddField("query.timeout", "must be positive")
	}

	if c.Archive.Enabled {
		switch c.Archive.Compression {
		case "snappy", "zstd", "lz4", "gzip", "none", "":
		default:
			errs.AddField("archive.compression", fmt.Sprintf("%q", c.Archive.Compression))
		}
	}

	return errs.Err()
}

// EnsureDirectories creates the on-disk directories the configuration names.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.FileLog.Path)}
	if c.Backend == BackendDuckDB {
		dirs = append(dirs, filepath.Dir(c.DuckDB.Path))
	}
	if c.Archive.Enabled {
		dirs = append(dirs, c.Archive.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
