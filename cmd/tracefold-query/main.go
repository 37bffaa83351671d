// Package main implements tracefold-query, a read-only CLI over an
// existing tracefold store. It prints matching events as NDJSON, or the
// aggregate stats with --stats.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tracefold/tracefold/internal/codec"
	"github.com/tracefold/tracefold/internal/config"
	"github.com/tracefold/tracefold/internal/store"
	"github.com/tracefold/tracefold/pkg/types"
)

func main() {
	var (
		dataDir   string
		dbPath    string
		startStr  string
		endStr    string
		eventType string
		source    string
		limit     int
		showStats bool
		pretty    bool
	)

	flag.StringVar(&dataDir, "data-dir", "", "Base data directory (store at <data-dir>/events.db)")
	flag.StringVar(&dbPath, "db", "", "Path to the store file (overrides --data-dir)")
	flag.StringVar(&startStr, "start", "", "Inclusive start of the time range (RFC3339 or unix seconds)")
	flag.StringVar(&endStr, "end", "", "Exclusive end of the time range (RFC3339 or unix seconds)")
	flag.StringVar(&eventType, "type", "", "Filter by event type")
	flag.StringVar(&source, "source", "", "Filter by source")
	flag.IntVar(&limit, "limit", 0, "Maximum events to return (0 = default cap)")
	flag.BoolVar(&showStats, "stats", false, "Print aggregate statistics instead of events")
	flag.BoolVar(&pretty, "pretty", false, "Indent JSON output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tracefold-query - Read-only queries over a tracefold store\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tracefold-query [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tracefold-query --data-dir /var/lib/tracefold --type file_op --limit 20\n")
		fmt.Fprintf(os.Stderr, "  tracefold-query --db events.db --start 2026-08-01T00:00:00Z --end 2026-08-02T00:00:00Z\n")
		fmt.Fprintf(os.Stderr, "  tracefold-query --data-dir /var/lib/tracefold --stats --pretty\n")
	}

	flag.Parse()

	_ = godotenv.Load()

	if dbPath == "" {
		cfg := config.Default()
		config.LoadFromEnv(cfg)
		if dataDir != "" {
			cfg.DataDir = dataDir
			cfg.DatabasePath = ""
		}
		cfg.Resolve()
		dbPath = cfg.DatabasePath
	}

	if _, err := os.Stat(dbPath); err != nil {
		log.Fatalf("Store not found at %s: %v", dbPath, err)
	}

	s, err := store.Open(dbPath, codec.New(codec.DefaultThreshold))
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	if showStats {
		if err := printStats(ctx, s, pretty); err != nil {
			log.Fatalf("Stats query failed: %v", err)
		}
		return
	}

	filter := store.Filter{
		EventType: eventType,
		Source:    source,
		Limit:     limit,
	}
	if startStr != "" {
		ts, err := parseTimestamp(startStr)
		if err != nil {
			log.Fatalf("Invalid --start: %v", err)
		}
		filter.Start = &ts
	}
	if endStr != "" {
		ts, err := parseTimestamp(endStr)
		if err != nil {
			log.Fatalf("Invalid --end: %v", err)
		}
		filter.End = &ts
	}

	events, err := s.Select(ctx, filter)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	for _, ev := range events {
		if err := enc.Encode(eventView(ev)); err != nil {
			log.Fatalf("Failed to encode event: %v", err)
		}
	}
}

// view is the output shape: payload inlined as JSON when possible, so the
// result pipes cleanly into jq.
type view struct {
	ID         int64           `json:"id"`
	Timestamp  float64         `json:"timestamp"`
	EventType  string          `json:"event_type"`
	Action     string          `json:"action,omitempty"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload []byte          `json:"raw_payload,omitempty"`
	Processed  bool            `json:"processed"`
}

func eventView(ev types.Event) view {
	v := view{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
		Action:    ev.Action,
		Source:    ev.Source,
		Processed: ev.Processed,
	}
	if json.Valid(ev.Payload) {
		v.Payload = json.RawMessage(ev.Payload)
	} else {
		v.RawPayload = ev.Payload
	}
	return v
}

// statsView aggregates the store-side statistics for output.
type statsView struct {
	TotalEvents      int64                `json:"total_events"`
	StorageSizeBytes int64                `json:"storage_size_bytes"`
	LatestSnapshot   *types.StatsSnapshot `json:"latest_snapshot,omitempty"`
}

func printStats(ctx context.Context, s *store.Store, pretty bool) error {
	total, err := s.TotalEvents(ctx)
	if err != nil {
		return err
	}
	size, err := s.StorageSizeBytes(ctx)
	if err != nil {
		return err
	}
	latest, err := s.LatestStatsSnapshot(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(statsView{
		TotalEvents:      total,
		StorageSizeBytes: size,
		LatestSnapshot:   latest,
	})
}

// parseTimestamp accepts RFC3339 or unix seconds (integer or fractional).
func parseTimestamp(s string) (float64, error) {
	if ts, err := strconv.ParseFloat(s, 64); err == nil {
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("expected RFC3339 or unix seconds, got %q", s)
	}
	return float64(t.UnixNano()) / float64(time.Second), nil
}
