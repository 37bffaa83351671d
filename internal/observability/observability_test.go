package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tracefold/tracefold/pkg/types"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()

	m.RecordFlush(10, 2)
	m.RecordFlush(5, 0)
	m.RecordFailedBatch(3)
	m.SetQueueCounters(20, 1)

	snap := m.Snapshot()
	if snap.Inserted != 15 {
		t.Errorf("Inserted = %d, want 15", snap.Inserted)
	}
	if snap.Duplicates != 2 {
		t.Errorf("Duplicates = %d, want 2", snap.Duplicates)
	}
	if snap.Flushes != 2 {
		t.Errorf("Flushes = %d, want 2", snap.Flushes)
	}
	if snap.FailedBatches != 1 || snap.FailedEvents != 3 {
		t.Errorf("failed counters = %d/%d, want 1/3", snap.FailedBatches, snap.FailedEvents)
	}
	if snap.Submitted != 20 || snap.Dropped != 1 {
		t.Errorf("queue counters = %d/%d, want 20/1", snap.Submitted, snap.Dropped)
	}
}

func TestMetricsConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordFlush(1, 0)
			}
		}()
	}
	wg.Wait()

	if got := m.Inserted(); got != 800 {
		t.Errorf("Inserted = %d, want 800", got)
	}
	if snap := m.Snapshot(); snap.Flushes != 800 {
		t.Errorf("Flushes = %d, want 800", snap.Flushes)
	}
}

// memStatsStore collects snapshots in memory.
type memStatsStore struct {
	mu        sync.Mutex
	total     int64
	size      int64
	snapshots []types.StatsSnapshot
}

func (m *memStatsStore) TotalEvents(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, nil
}

func (m *memStatsStore) StorageSizeBytes(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size, nil
}

func (m *memStatsStore) InsertStatsSnapshot(ctx context.Context, snap types.StatsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *memStatsStore) collected() []types.StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.StatsSnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

func TestSnapshotterWritesRows(t *testing.T) {
	store := &memStatsStore{total: 42, size: 8192}
	metrics := NewMetrics()
	metrics.RecordFlush(42, 0)

	snapshotter := NewSnapshotter(20*time.Millisecond, store, metrics)
	if err := snapshotter.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(store.collected()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, collected %d snapshots", len(store.collected()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := snapshotter.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	snaps := store.collected()
	if snaps[0].TotalEvents != 42 || snaps[0].StorageSizeBytes != 8192 {
		t.Errorf("unexpected snapshot: %+v", snaps[0])
	}
	// All 42 inserts predate the first interval; the second interval saw
	// no new inserts, so its rate must be zero.
	if snaps[1].EventsPerSecond != 0 {
		t.Errorf("second snapshot rate = %v, want 0", snaps[1].EventsPerSecond)
	}
	if snaps[0].Timestamp >= snaps[1].Timestamp {
		t.Errorf("snapshot timestamps not increasing: %v >= %v", snaps[0].Timestamp, snaps[1].Timestamp)
	}
}

func TestSnapshotterRateReflectsDelta(t *testing.T) {
	store := &memStatsStore{}
	metrics := NewMetrics()

	snapshotter := NewSnapshotter(30*time.Millisecond, store, metrics)
	if err := snapshotter.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer snapshotter.Stop()

	metrics.RecordFlush(60, 0)

	deadline := time.After(2 * time.Second)
	for {
		snaps := store.collected()
		for _, snap := range snaps {
			if snap.EventsPerSecond > 0 {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("no snapshot observed the insert delta: %+v", store.collected())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSnapshotterDoubleStart(t *testing.T) {
	snapshotter := NewSnapshotter(time.Hour, &memStatsStore{}, NewMetrics())
	if err := snapshotter.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer snapshotter.Stop()

	if err := snapshotter.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}
