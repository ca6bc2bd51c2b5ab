// wardenctl is the interactive operator console for a warden data directory.
//
// It opens the configured store directly, so it is meant to be pointed at a
// stopped daemon's data directory or at a copy of it.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/mkarling/warden/internal/config"
	"github.com/mkarling/warden/internal/console"
	"github.com/mkarling/warden/internal/engine"
	"github.com/mkarling/warden/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "warden.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	backend := flag.String("backend", "", "store backend: filelog or duckdb (overrides config)")
	flag.Parse()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Fatal("wardenctl needs an interactive terminal")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.FileLog.Path = ""
		cfg.DuckDB.Path = ""
		cfg.Archive.Dir = ""
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	cfg.ApplyDefaults()

	// Keep the console output clean; only warnings and errors get through.
	cfg.Log.Level = "warn"
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Open data directory: %v", err)
	}
	if err := eng.Start(); err != nil {
		log.Fatalf("Start engine: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Stop(ctx)
	}()

	console.New(eng, os.Stdout).Run()
}
