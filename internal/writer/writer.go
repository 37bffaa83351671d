// Package writer implements the single consumer of the ingestion queue.
// It accumulates events into batches and commits each batch to the durable
// store in one transaction, so a crash never leaves a partial batch behind.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracefold/tracefold/internal/errors"
	"github.com/tracefold/tracefold/internal/observability"
	"github.com/tracefold/tracefold/pkg/types"
)

// retryBaseDelay is the first backoff interval after a failed flush.
// Subsequent attempts double it.
const retryBaseDelay = 100 * time.Millisecond

// BatchStore is the slice of the durable store the writer needs.
type BatchStore interface {
	CommitBatch(ctx context.Context, events []types.Event) (inserted, duplicates int, err error)
}

// Config holds the batching parameters.
type Config struct {
	// BatchSize is the flush threshold in events.
	BatchSize int

	// BatchTimeout bounds how long the first event of a batch waits
	// before a partial flush.
	BatchTimeout time.Duration

	// MaxFlushRetries is how many times a failed flush is retried
	// before the batch is dumped for replay.
	MaxFlushRetries int

	// ReplayDir is where undeliverable batches are dumped as JSON.
	ReplayDir string
}

// Writer is the single goroutine that drains the ingestion queue. Exactly
// one writer runs per engine; batch ordering within a producer is preserved
// because there is no fan-out.
type Writer struct {
	cfg     Config
	store   BatchStore
	events  <-chan types.Event
	metrics *observability.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a writer consuming from events.
func New(cfg Config, store BatchStore, events <-chan types.Event, metrics *observability.Metrics) *Writer {
	return &Writer{
		cfg:     cfg,
		store:   store,
		events:  events,
		metrics: metrics,
	}
}

// Start launches the consumer loop. It runs until the context is cancelled
// or the event channel is closed and drained.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("writer: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)
	return nil
}

// Stop cancels the consumer loop and waits for it to finish. To drain
// gracefully, close the queue first and wait on Done instead.
func (w *Writer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.cancel()
	<-w.done
	w.running = false
	return nil
}

// Done is closed when the consumer loop has exited. After the queue is
// closed, waiting on Done guarantees every queued event was flushed or
// dumped for replay.
func (w *Writer) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// run is the consumer loop. It blocks for the first event of each batch,
// then races the batch timeout against the batch filling up.
func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	batch := make([]types.Event, 0, w.cfg.BatchSize)

	timer := time.NewTimer(w.cfg.BatchTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flushWithRetry(ctx, batch)
		batch = batch[:0]
	}

	for {
		if len(batch) == 0 {
			// Idle: nothing buffered, no deadline running.
			select {
			case ev, ok := <-w.events:
				if !ok {
					return
				}
				batch = append(batch, ev)
				timer.Reset(w.cfg.BatchTimeout)
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case ev, ok := <-w.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.cfg.BatchSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush()
			}
		case <-timer.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

// flushWithRetry commits the batch, retrying retryable failures with
// exponential backoff. When retries are exhausted the batch is dumped to
// the replay directory and the loop moves on, so one bad batch never
// wedges ingestion.
func (w *Writer) flushWithRetry(ctx context.Context, batch []types.Event) {
	delay := retryBaseDelay
	attempts := w.cfg.MaxFlushRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// Shutdown during backoff: dump immediately so the
				// batch is not lost.
				w.dumpForReplay(batch, lastErr)
				return
			}
			delay *= 2
		}

		inserted, duplicates, err := w.store.CommitBatch(ctx, batch)
		if err == nil {
			w.metrics.RecordFlush(inserted, duplicates)
			return
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			log.Printf("[WARN] writer: non-retryable flush failure, dumping %d events: %v", len(batch), err)
			w.dumpForReplay(batch, err)
			return
		}
		log.Printf("[WARN] writer: flush attempt %d/%d failed: %v", attempt+1, attempts, err)
	}

	log.Printf("[WARN] writer: retries exhausted, dumping %d events for replay: %v", len(batch), lastErr)
	w.dumpForReplay(batch, lastErr)
}

// replayDump is the on-disk format of an undeliverable batch.
type replayDump struct {
	DumpedAt time.Time     `json:"dumped_at"`
	Reason   string        `json:"reason"`
	Events   []types.Event `json:"events"`
}

// dumpForReplay writes the batch to the replay directory. The dump keeps
// payloads and dedup hashes intact, so re-ingesting it later is idempotent.
func (w *Writer) dumpForReplay(batch []types.Event, cause error) {
	w.metrics.RecordFailedBatch(len(batch))

	if w.cfg.ReplayDir == "" {
		log.Printf("[WARN] writer: no replay directory configured, %d events lost", len(batch))
		return
	}
	if err := os.MkdirAll(w.cfg.ReplayDir, 0o755); err != nil {
		log.Printf("[WARN] writer: failed to create replay directory: %v", err)
		return
	}

	dump := replayDump{
		DumpedAt: time.Now().UTC(),
		Events:   batch,
	}
	if cause != nil {
		dump.Reason = cause.Error()
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		log.Printf("[WARN] writer: failed to marshal replay dump: %v", err)
		return
	}

	path := filepath.Join(w.cfg.ReplayDir, fmt.Sprintf("batch_%s.json", uuid.New().String()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[WARN] writer: failed to write replay dump: %v", err)
		return
	}
	log.Printf("writer: dumped %d events to %s", len(batch), path)
}

// ReadReplayDump loads a previously dumped batch for re-ingestion.
func ReadReplayDump(path string) ([]types.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("writer: failed to read replay dump: %w", err)
	}
	var dump replayDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("writer: failed to parse replay dump %s: %w", path, err)
	}
	return dump.Events, nil
}
