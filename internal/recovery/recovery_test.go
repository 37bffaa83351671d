package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tracefold/tracefold/internal/codec"
	"github.com/tracefold/tracefold/internal/errors"
	"github.com/tracefold/tracefold/internal/store"
	"github.com/tracefold/tracefold/pkg/types"
)

func TestInspectMissingStore(t *testing.T) {
	insp := Inspect(filepath.Join(t.TempDir(), "events.db"))
	if insp.StoreExists {
		t.Error("expected StoreExists=false for missing file")
	}
	if insp.UncleanShutdown() {
		t.Error("missing store should not look like an unclean shutdown")
	}
}

func TestInspectDetectsLeftoverWAL(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "events.db")

	for _, name := range []string{"events.db", "events.db-wal"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("stale"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	insp := Inspect(dbPath)
	if !insp.StoreExists {
		t.Error("expected StoreExists=true")
	}
	if insp.WALBytes == 0 {
		t.Error("expected non-zero WAL size")
	}
	if !insp.UncleanShutdown() {
		t.Error("leftover WAL should flag an unclean shutdown")
	}
}

func TestVerifyHealthyStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "events.db")

	insp := Inspect(dbPath)

	s, err := store.Open(dbPath, codec.New(1024))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	events := []types.Event{{
		Timestamp: 100.0, EventType: "file_op", Source: "test",
		Payload: []byte("{}"), ContentHash: "r1",
	}}
	if _, _, err := s.CommitBatch(context.Background(), events); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}

	report, err := Verify(context.Background(), s, insp, filepath.Join(dir, "replay"))
	if err != nil {
		t.Fatalf("Verify failed on healthy store: %v", err)
	}
	if report.TotalEvents != 1 {
		t.Errorf("expected 1 recovered event, got %d", report.TotalEvents)
	}
	if len(report.ReplayDumps) != 0 {
		t.Errorf("expected no replay dumps, got %v", report.ReplayDumps)
	}
}

func TestVerifySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "events.db")
	c := codec.New(1024)

	s, err := store.Open(dbPath, c)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	events := []types.Event{{
		Timestamp: 100.0, EventType: "file_op", Source: "test",
		Payload: []byte("{}"), ContentHash: "survives",
	}}
	if _, _, err := s.CommitBatch(context.Background(), events); err != nil {
		t.Fatalf("CommitBatch failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	insp := Inspect(dbPath)
	reopened, err := store.Open(dbPath, c)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	report, err := Verify(context.Background(), reopened, insp, "")
	if err != nil {
		t.Fatalf("Verify failed after reopen: %v", err)
	}
	if report.TotalEvents != 1 {
		t.Errorf("committed event lost across restart: got %d events", report.TotalEvents)
	}
}

func TestListReplayDumps(t *testing.T) {
	dir := t.TempDir()

	names := []string{"batch_b.json", "batch_a.json", "unrelated.txt"}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	dumps, err := ListReplayDumps(dir)
	if err != nil {
		t.Fatalf("ListReplayDumps failed: %v", err)
	}
	if len(dumps) != 2 {
		t.Fatalf("expected 2 dumps, got %v", dumps)
	}
	if filepath.Base(dumps[0]) != "batch_a.json" || filepath.Base(dumps[1]) != "batch_b.json" {
		t.Errorf("dumps not sorted: %v", dumps)
	}
}

func TestListReplayDumpsMissingDir(t *testing.T) {
	dumps, err := ListReplayDumps(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing dir should not be an error: %v", err)
	}
	if len(dumps) != 0 {
		t.Errorf("expected no dumps, got %v", dumps)
	}
}

func TestVerifyErrorCarriesCorruptCode(t *testing.T) {
	// A failing checker stands in for a store that flunks quick_check.
	checker := &failingChecker{}
	_, err := Verify(context.Background(), checker, Inspection{}, "")
	if err == nil {
		t.Fatal("expected error from failing checker")
	}
	if errors.GetCode(err) != errors.CodeCorruptStore {
		t.Errorf("expected code %s, got %s", errors.CodeCorruptStore, errors.GetCode(err))
	}
}

type failingChecker struct{}

func (f *failingChecker) Path() string { return "/dev/null" }

func (f *failingChecker) CheckConsistency(ctx context.Context) error {
	return errors.NewRecoveryError(errors.CodeCorruptStore, "store failed integrity check", nil)
}

func (f *failingChecker) TotalEvents(ctx context.Context) (int64, error) { return 0, nil }
