// Package main implements the tracefold daemon: it ingests events from
// stdin as NDJSON and persists them durably until interrupted.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tracefold/tracefold/internal/config"
	"github.com/tracefold/tracefold/internal/engine"
	"github.com/tracefold/tracefold/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		batchSize   int
		retention   int
		stdinSource string
		replay      bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the store and replay dumps")
	flag.IntVar(&batchSize, "batch-size", 0, "Events per flush (overrides config)")
	flag.IntVar(&retention, "retention-days", 0, "Days to keep events (overrides config)")
	flag.StringVar(&stdinSource, "stdin-source", "", "Ingest NDJSON events from stdin, tagging them with this source")
	flag.BoolVar(&replay, "replay", false, "Re-ingest pending replay dumps on startup")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tracefold - Durable Event Persistence Engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tracefold [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tracefold --data-dir /var/lib/tracefold\n")
		fmt.Fprintf(os.Stderr, "  tracefold --config /etc/tracefold/config.yaml --replay\n")
		fmt.Fprintf(os.Stderr, "  tail -f events.ndjson | tracefold --stdin-source tailer\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TRACEFOLD_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TRACEFOLD_BATCH_SIZE       Events per flush\n")
		fmt.Fprintf(os.Stderr, "  TRACEFOLD_RETENTION_DAYS   Days to keep events\n")
		fmt.Fprintf(os.Stderr, "  TRACEFOLD_OVERFLOW_POLICY  Queue-full behavior (block, drop-oldest, drop-newest)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("tracefold version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A .env file next to the binary is optional.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, batchSize, retention)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	if replay {
		if n, err := eng.ReplayPending(ctx); err != nil {
			log.Printf("[WARN] replay failed: %v", err)
		} else if n > 0 {
			log.Printf("Replayed %d events from pending dumps", n)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	if stdinSource != "" {
		go func() {
			if err := ingestStdin(ctx, eng, stdinSource); err != nil {
				log.Printf("[WARN] stdin ingestion stopped: %v", err)
			}
			// Producers are done; shut down once the input closes.
			sigCh <- syscall.SIGTERM
		}()
	}

	sig := <-sigCh
	log.Printf("Received signal: %v", sig)
	cancel()

	if err := eng.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line
// flags, in increasing priority.
func loadConfig(configFile, dataDir string, batchSize, retention int) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.DatabasePath = ""
		cfg.ReplayDir = ""
	}
	if batchSize > 0 {
		cfg.BatchSize = batchSize
	}
	if retention > 0 {
		cfg.RetentionDays = retention
	}

	cfg.Resolve()
	return cfg, nil
}

// stdinEvent is the NDJSON input shape. Payload may be any JSON value.
type stdinEvent struct {
	Timestamp float64         `json:"timestamp"`
	EventType string          `json:"event_type"`
	Action    string          `json:"action"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// ingestStdin reads one JSON event per line until EOF. Malformed lines are
// logged and skipped so one bad producer line never stops the stream.
func ingestStdin(ctx context.Context, eng *engine.Engine, defaultSource string) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var line, accepted, skipped int
	start := time.Now()

	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var in stdinEvent
		if err := json.Unmarshal(raw, &in); err != nil {
			skipped++
			log.Printf("[WARN] stdin line %d: invalid JSON: %v", line, err)
			continue
		}

		source := in.Source
		if source == "" {
			source = defaultSource
		}

		err := eng.Submit(ctx, types.Event{
			Timestamp: in.Timestamp,
			EventType: in.EventType,
			Action:    in.Action,
			Source:    source,
			Payload:   []byte(in.Payload),
		})
		if err != nil {
			skipped++
			log.Printf("[WARN] stdin line %d rejected: %v", line, err)
			continue
		}
		accepted++
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	log.Printf("stdin ingestion finished: %d accepted, %d skipped in %v",
		accepted, skipped, time.Since(start).Round(time.Millisecond))
	return nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════╗")
	log.Printf("║                 TRACEFOLD                 ║")
	log.Printf("║     Durable Event Persistence Engine      ║")
	log.Printf("╚═══════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Data Dir:   %s", cfg.DataDir)
	log.Printf("  Store:      %s", cfg.DatabasePath)
	log.Printf("  Batching:   %d events / %v", cfg.BatchSize, cfg.BatchTimeout)
	log.Printf("  Queue:      %d (%s on overflow)", cfg.QueueCapacity, cfg.OverflowPolicy)
	log.Printf("  Retention:  %d days, swept every %v", cfg.RetentionDays, cfg.CleanupInterval)
	log.Printf("")
}
