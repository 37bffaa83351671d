// Package recovery implements the startup gate that runs before ingestion
// is allowed to begin. It inspects the store files for evidence of an
// unclean shutdown, verifies integrity after the store is opened, and
// inventories any replay dumps left behind by failed flushes.
//
// Recovery has two outcomes: the store is consistent and the engine may
// start, or the store is corrupt and startup fails loudly. It never
// silently starts over an empty store.
package recovery

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/tracefold/tracefold/internal/errors"
)

// StoreChecker is the slice of the durable store recovery needs.
type StoreChecker interface {
	Path() string
	CheckConsistency(ctx context.Context) error
	TotalEvents(ctx context.Context) (int64, error)
}

// Inspection is what Inspect finds on disk before the store is opened.
type Inspection struct {
	// StoreExists reports whether the database file is present.
	StoreExists bool

	// WALBytes is the size of a leftover write-ahead log, zero if none.
	// A non-empty WAL means the previous run did not shut down cleanly;
	// opening the store replays or discards it as SQLite sees fit.
	WALBytes int64

	// JournalBytes is the size of a leftover rollback journal, zero if none.
	JournalBytes int64
}

// UncleanShutdown reports whether the previous run left transaction state
// behind.
func (i Inspection) UncleanShutdown() bool {
	return i.WALBytes > 0 || i.JournalBytes > 0
}

// Report summarizes a completed recovery pass.
type Report struct {
	Inspection Inspection

	// TotalEvents is the number of events that survived recovery.
	TotalEvents int64

	// ReplayDumps lists batch dump files awaiting re-ingestion, sorted
	// by name.
	ReplayDumps []string
}

// Inspect examines the store files before opening. It only observes; the
// actual WAL replay happens when the store is opened.
func Inspect(dbPath string) Inspection {
	var insp Inspection

	if fi, err := os.Stat(dbPath); err == nil && !fi.IsDir() {
		insp.StoreExists = true
	}
	if fi, err := os.Stat(dbPath + "-wal"); err == nil {
		insp.WALBytes = fi.Size()
	}
	if fi, err := os.Stat(dbPath + "-journal"); err == nil {
		insp.JournalBytes = fi.Size()
	}
	return insp
}

// Verify runs the post-open integrity gate. A corrupt store is a fatal
// error carrying CodeCorruptStore; callers must not start ingestion when
// Verify fails.
func Verify(ctx context.Context, store StoreChecker, insp Inspection, replayDir string) (*Report, error) {
	if insp.UncleanShutdown() {
		log.Printf("recovery: unclean shutdown detected (wal=%dB journal=%dB), verifying %s",
			insp.WALBytes, insp.JournalBytes, store.Path())
	}

	if err := store.CheckConsistency(ctx); err != nil {
		return nil, errors.NewRecoveryError(errors.CodeCorruptStore,
			fmt.Sprintf("store %s failed recovery", store.Path()), err)
	}

	total, err := store.TotalEvents(ctx)
	if err != nil {
		return nil, errors.NewRecoveryError(errors.CodeCorruptStore, "failed to count recovered events", err)
	}

	dumps, err := ListReplayDumps(replayDir)
	if err != nil {
		return nil, err
	}
	if len(dumps) > 0 {
		log.Printf("[WARN] recovery: %d replay dump(s) pending in %s", len(dumps), replayDir)
	}

	log.Printf("recovery: store verified, %d events, state consistent", total)
	return &Report{
		Inspection:  insp,
		TotalEvents: total,
		ReplayDumps: dumps,
	}, nil
}

// ListReplayDumps returns the batch dump files in replayDir, sorted by
// name. A missing directory means no dumps.
func ListReplayDumps(replayDir string) ([]string, error) {
	if replayDir == "" {
		return nil, nil
	}

	pattern := filepath.Join(replayDir, "batch_*.json")
	dumps, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.NewRecoveryError(errors.CodeCorruptStore,
			fmt.Sprintf("failed to scan replay directory %s", replayDir), err)
	}
	sort.Strings(dumps)
	return dumps, nil
}
