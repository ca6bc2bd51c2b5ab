// wardend is the detection event engine daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkarling/warden/internal/config"
	"github.com/mkarling/warden/internal/engine"
	"github.com/mkarling/warden/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "warden.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	backend := flag.String("backend", "", "store backend: filelog or duckdb (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("No config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.FileLog.Path = ""
		cfg.DuckDB.Path = ""
		cfg.Archive.Dir = ""
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	logger := logging.Component("wardend")
	logger.Info("starting", "version", Version, "backend", cfg.Backend, "data_dir", cfg.DataDir)

	eng, err := engine.New(cfg)
	if err != nil {
		logger.Error("create engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		logger.Error("start engine", "error", err)
		os.Exit(1)
	}

	// Signal handling and graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", "signal", s.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}
