package observability

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tracefold/tracefold/pkg/types"
)

// StatsStore is the slice of the durable store the snapshotter needs.
type StatsStore interface {
	TotalEvents(ctx context.Context) (int64, error)
	StorageSizeBytes(ctx context.Context) (int64, error)
	InsertStatsSnapshot(ctx context.Context, snap types.StatsSnapshot) error
}

// Snapshotter periodically writes aggregate stats rows. The ingestion rate
// is computed from the inserted-counter delta over the interval, so it
// reflects durable commits rather than queue arrivals.
type Snapshotter struct {
	interval time.Duration
	store    StatsStore
	metrics  *Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotter creates a snapshotter writing one row per interval.
func NewSnapshotter(interval time.Duration, store StatsStore, metrics *Metrics) *Snapshotter {
	return &Snapshotter{
		interval: interval,
		store:    store,
		metrics:  metrics,
	}
}

// Start begins the snapshot loop. It runs until the context is cancelled
// or Stop is called.
func (s *Snapshotter) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("observability: snapshotter already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop gracefully stops the snapshot loop.
func (s *Snapshotter) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	<-s.done
	s.running = false
	return nil
}

func (s *Snapshotter) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastInserted := s.metrics.Inserted()
	lastTime := time.Now()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if err := s.writeSnapshot(ctx, now, now.Sub(lastTime), &lastInserted); err != nil {
				log.Printf("[WARN] observability: stats snapshot failed: %v", err)
			}
			lastTime = now
		case <-ctx.Done():
			return
		}
	}
}

// writeSnapshot computes and persists one stats row. lastInserted is
// advanced to the current counter so the next interval measures its own
// delta even after a failed write.
func (s *Snapshotter) writeSnapshot(ctx context.Context, now time.Time, elapsed time.Duration, lastInserted *int64) error {
	inserted := s.metrics.Inserted()
	delta := inserted - *lastInserted
	*lastInserted = inserted

	var rate float64
	if elapsed > 0 {
		rate = float64(delta) / elapsed.Seconds()
	}

	total, err := s.store.TotalEvents(ctx)
	if err != nil {
		return err
	}
	size, err := s.store.StorageSizeBytes(ctx)
	if err != nil {
		return err
	}

	return s.store.InsertStatsSnapshot(ctx, types.StatsSnapshot{
		Timestamp:        float64(now.UnixNano()) / float64(time.Second),
		TotalEvents:      total,
		EventsPerSecond:  rate,
		StorageSizeBytes: size,
	})
}
