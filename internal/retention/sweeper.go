// Package retention implements the background sweeper that removes events
// older than the retention horizon and reclaims the space they occupied.
package retention

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tracefold/tracefold/internal/store"
)

// SweepStore is the slice of the durable store the sweeper needs.
type SweepStore interface {
	DeleteBefore(ctx context.Context, cutoff float64, chunkSize int) (store.SweepResult, error)
	ReclaimSpace(ctx context.Context) error
}

// Config holds the sweeper parameters.
type Config struct {
	// Horizon is how long events are kept. Events with a timestamp
	// older than now minus Horizon are removed.
	Horizon time.Duration

	// Interval is how often a sweep runs.
	Interval time.Duration

	// ChunkSize bounds the rows deleted per transaction so a sweep
	// never holds the write lock for long.
	ChunkSize int
}

// Sweeper periodically deletes expired events. A failed sweep is logged
// and retried at the next interval; it never takes the engine down.
type Sweeper struct {
	cfg   Config
	store SweepStore

	// now is swappable for tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a sweeper.
func New(cfg Config, st SweepStore) *Sweeper {
	return &Sweeper{
		cfg:   cfg,
		store: st,
		now:   time.Now,
	}
}

// Start begins the sweep loop. The first sweep runs immediately; later
// sweeps run every Interval until the context is cancelled or Stop is
// called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("retention: sweeper already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop gracefully stops the sweep loop, waiting for an in-flight sweep to
// finish its current chunk.
func (s *Sweeper) Stop() error {
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

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep runs one retention pass: chunked deletes followed by space
// reclamation when anything was removed.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.Cutoff()

	result, err := s.store.DeleteBefore(ctx, cutoff, s.cfg.ChunkSize)
	if err != nil {
		log.Printf("[WARN] retention: sweep failed, will retry next interval: %v", err)
		return
	}
	if result.EventsDeleted == 0 {
		return
	}

	log.Printf("retention: removed %d events and %d annotations in %d chunk(s)",
		result.EventsDeleted, result.AnnotationsDeleted, result.Chunks)

	if err := s.store.ReclaimSpace(ctx); err != nil {
		log.Printf("[WARN] retention: space reclamation failed: %v", err)
	}
}

// Cutoff returns the current expiry boundary as floating-point seconds
// since the epoch. Events strictly older than the cutoff are expired.
func (s *Sweeper) Cutoff() float64 {
	boundary := s.now().Add(-s.cfg.Horizon)
	return float64(boundary.UnixNano()) / float64(time.Second)
}

// SweepOnce runs a single synchronous pass, for callers that want an
// on-demand sweep outside the daemon schedule.
func (s *Sweeper) SweepOnce(ctx context.Context) (store.SweepResult, error) {
	result, err := s.store.DeleteBefore(ctx, s.Cutoff(), s.cfg.ChunkSize)
	if err != nil {
		return result, err
	}
	if result.EventsDeleted > 0 {
		if err := s.store.ReclaimSpace(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}
