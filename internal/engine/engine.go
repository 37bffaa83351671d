// Package engine wires the ingestion queue, batch writer, durable store,
// retention sweeper and stats snapshotter into one lifecycle. It is the
// only package callers need.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/tracefold/tracefold/internal/codec"
	"github.com/tracefold/tracefold/internal/config"
	"github.com/tracefold/tracefold/internal/dedup"
	"github.com/tracefold/tracefold/internal/errors"
	"github.com/tracefold/tracefold/internal/observability"
	"github.com/tracefold/tracefold/internal/queue"
	"github.com/tracefold/tracefold/internal/recovery"
	"github.com/tracefold/tracefold/internal/retention"
	"github.com/tracefold/tracefold/internal/store"
	"github.com/tracefold/tracefold/internal/writer"
	"github.com/tracefold/tracefold/pkg/types"
)

// Filter is the read-side query filter.
type Filter = store.Filter

// Stats is the aggregate view returned by GetStats.
type Stats struct {
	TotalEvents      int64                  `json:"total_events"`
	StorageSizeBytes int64                  `json:"storage_size_bytes"`
	QueueDepth       int                    `json:"queue_depth"`
	QueueCapacity    int                    `json:"queue_capacity"`
	LatestSnapshot   *types.StatsSnapshot   `json:"latest_snapshot,omitempty"`
	Counters         observability.Snapshot `json:"counters"`
}

// Engine is the event persistence engine. Create one with New, call Start
// before submitting, and Stop to drain and shut down.
type Engine struct {
	cfg *config.Config

	codec   *codec.Codec
	hasher  *dedup.Builder
	metrics *observability.Metrics

	mu          sync.Mutex
	started     bool
	stopped     bool
	store       *store.Store
	queue       *queue.Queue
	writer      *writer.Writer
	sweeper     *retention.Sweeper
	snapshotter *observability.Snapshotter
	report      *recovery.Report
	cancel      context.CancelFunc
}

// New validates the configuration and builds an engine. No files are
// touched until Start.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		codec:   codec.New(cfg.CompressionThresholdBytes),
		hasher:  dedup.NewBuilder(time.Duration(cfg.DedupBucket)),
		metrics: observability.NewMetrics(),
	}, nil
}

// Start opens the store, runs the recovery gate, and launches the writer
// and background daemons. Ingestion is refused until recovery reports the
// store consistent; a corrupt store fails Start rather than starting empty.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine: already started")
	}
	if e.stopped {
		return fmt.Errorf("engine: cannot restart a stopped engine")
	}

	if err := e.cfg.EnsureDirectories(); err != nil {
		return err
	}

	insp := recovery.Inspect(e.cfg.DatabasePath)

	st, err := store.Open(e.cfg.DatabasePath, e.codec)
	if err != nil {
		return err
	}

	report, err := recovery.Verify(ctx, st, insp, e.cfg.ReplayDir)
	if err != nil {
		st.Close()
		return err
	}
	e.store = st
	e.report = report

	daemonCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.queue = queue.New(e.cfg.QueueCapacity, e.cfg.OverflowPolicy, time.Duration(e.cfg.SubmitTimeout))

	e.writer = writer.New(writer.Config{
		BatchSize:       e.cfg.BatchSize,
		BatchTimeout:    time.Duration(e.cfg.BatchTimeout),
		MaxFlushRetries: e.cfg.MaxFlushRetries,
		ReplayDir:       e.cfg.ReplayDir,
	}, st, e.queue.Events(), e.metrics)
	if err := e.writer.Start(daemonCtx); err != nil {
		cancel()
		st.Close()
		return err
	}

	e.sweeper = retention.New(retention.Config{
		Horizon:   e.cfg.RetentionHorizon(),
		Interval:  time.Duration(e.cfg.CleanupInterval),
		ChunkSize: e.cfg.SweepChunkSize,
	}, st)
	if err := e.sweeper.Start(daemonCtx); err != nil {
		e.writer.Stop()
		cancel()
		st.Close()
		return err
	}

	if e.cfg.StatsInterval > 0 {
		e.snapshotter = observability.NewSnapshotter(time.Duration(e.cfg.StatsInterval), st, e.metrics)
		if err := e.snapshotter.Start(daemonCtx); err != nil {
			e.sweeper.Stop()
			e.writer.Stop()
			cancel()
			st.Close()
			return err
		}
	}

	e.started = true
	log.Printf("engine: started (store=%s batch=%d/%s retention=%dd)",
		e.cfg.DatabasePath, e.cfg.BatchSize, e.cfg.BatchTimeout, e.cfg.RetentionDays)
	return nil
}

// Stop drains the queue, flushes the final batch, stops the daemons and
// closes the store. Safe to call once; the engine cannot be restarted.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.stopped {
		return nil
	}
	e.stopped = true

	// Refuse new submissions, then let the writer drain what is queued.
	e.queue.Close()

	select {
	case <-e.writer.Done():
	case <-time.After(30 * time.Second):
		log.Printf("[WARN] engine: writer did not drain within 30s, cancelling")
	}
	e.writer.Stop()

	e.sweeper.Stop()
	if e.snapshotter != nil {
		e.snapshotter.Stop()
	}
	e.cancel()

	err := e.store.Close()
	log.Printf("engine: stopped")
	return err
}

// Submit validates, fingerprints and enqueues one event. It returns once
// the event is accepted into the queue; durability follows at the next
// batch flush. A duplicate (same content hash) is accepted here and
// absorbed as a no-op at commit time.
func (e *Engine) Submit(ctx context.Context, ev types.Event) error {
	if err := e.readyForIngest(); err != nil {
		return err
	}
	prepared, err := e.prepare(ev)
	if err != nil {
		return err
	}
	return e.queue.Submit(ctx, prepared)
}

// SubmitBatch enqueues events in order. It stops at the first failure and
// returns how many events were accepted.
func (e *Engine) SubmitBatch(ctx context.Context, events []types.Event) (int, error) {
	if err := e.readyForIngest(); err != nil {
		return 0, err
	}
	for i, ev := range events {
		prepared, err := e.prepare(ev)
		if err != nil {
			return i, err
		}
		if err := e.queue.Submit(ctx, prepared); err != nil {
			return i, err
		}
	}
	return len(events), nil
}

// prepare validates the event, stamps a timestamp if the producer did not,
// computes the dedup fingerprint and encodes the payload for storage.
func (e *Engine) prepare(ev types.Event) (types.Event, error) {
	if ev.EventType == "" {
		return ev, errors.NewValidationError(errors.CodeInvalidEvent, "event_type is required")
	}
	if ev.Source == "" {
		return ev, errors.NewValidationError(errors.CodeInvalidEvent, "source is required")
	}
	if ev.Timestamp < 0 {
		return ev, errors.NewValidationError(errors.CodeInvalidEvent,
			fmt.Sprintf("negative timestamp %v", ev.Timestamp))
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)
	}

	if ev.ContentHash == "" {
		ev.ContentHash = e.hasher.Key(ev.EventType, ev.Action, ev.Source, ev.Payload, ev.Timestamp)
	}

	encoded, encoding := e.codec.Encode(ev.Payload)
	ev.Payload = encoded
	ev.PayloadEncoding = encoding
	return ev, nil
}

// Select queries stored events. Reads run on their own connection pool and
// are never blocked by in-flight writes.
func (e *Engine) Select(ctx context.Context, f Filter) ([]types.Event, error) {
	st, err := e.readyStore()
	if err != nil {
		return nil, err
	}
	return st.Select(ctx, f)
}

// Annotate stores a pattern annotation against an existing event.
func (e *Engine) Annotate(ctx context.Context, a types.PatternAnnotation) (int64, error) {
	st, err := e.readyStore()
	if err != nil {
		return 0, err
	}
	return st.InsertAnnotation(ctx, a)
}

// AnnotationsForEvent returns the annotations linked to an event.
func (e *Engine) AnnotationsForEvent(ctx context.Context, eventID int64) ([]types.PatternAnnotation, error) {
	st, err := e.readyStore()
	if err != nil {
		return nil, err
	}
	return st.AnnotationsForEvent(ctx, eventID)
}

// MarkProcessed flags events as consumed by a downstream analyzer.
func (e *Engine) MarkProcessed(ctx context.Context, eventIDs []int64) error {
	st, err := e.readyStore()
	if err != nil {
		return err
	}
	return st.MarkProcessed(ctx, eventIDs)
}

// GetStats returns the aggregate store and ingestion statistics.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	st, err := e.readyStore()
	if err != nil {
		return nil, err
	}

	total, err := st.TotalEvents(ctx)
	if err != nil {
		return nil, err
	}
	size, err := st.StorageSizeBytes(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := st.LatestStatsSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalEvents:      total,
		StorageSizeBytes: size,
		QueueDepth:       e.queue.Len(),
		QueueCapacity:    e.queue.Cap(),
		LatestSnapshot:   latest,
		Counters:         e.Metrics(),
	}, nil
}

// Metrics returns a point-in-time copy of the ingestion counters.
func (e *Engine) Metrics() observability.Snapshot {
	e.mu.Lock()
	q := e.queue
	e.mu.Unlock()

	if q != nil {
		e.metrics.SetQueueCounters(q.Submitted(), q.Dropped())
	}
	return e.metrics.Snapshot()
}

// RecoveryReport returns what the startup gate found, or nil before Start.
func (e *Engine) RecoveryReport() *recovery.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// SweepNow runs an immediate retention pass outside the daemon schedule.
func (e *Engine) SweepNow(ctx context.Context) (store.SweepResult, error) {
	e.mu.Lock()
	sw := e.sweeper
	e.mu.Unlock()

	if sw == nil {
		return store.SweepResult{}, notRecoveredErr()
	}
	return sw.SweepOnce(ctx)
}

// ReplayPending re-ingests any batch dumps left by earlier failed flushes
// and removes the dump files that were fully accepted. Re-ingestion is
// idempotent: events that made it into the store before the dump are
// absorbed as duplicates.
func (e *Engine) ReplayPending(ctx context.Context) (int, error) {
	if err := e.readyForIngest(); err != nil {
		return 0, err
	}

	dumps, err := recovery.ListReplayDumps(e.cfg.ReplayDir)
	if err != nil {
		return 0, err
	}

	var replayed int
	for _, path := range dumps {
		events, err := writer.ReadReplayDump(path)
		if err != nil {
			log.Printf("[WARN] engine: skipping unreadable replay dump %s: %v", path, err)
			continue
		}
		// Dumped events already carry hashes and encoded payloads; they
		// bypass prepare and go straight onto the queue.
		if err := e.queue.SubmitBatch(ctx, events); err != nil {
			return replayed, err
		}
		replayed += len(events)
		if err := os.Remove(path); err != nil {
			log.Printf("[WARN] engine: failed to remove replayed dump %s: %v", path, err)
		}
	}
	if replayed > 0 {
		log.Printf("engine: replayed %d events from %d dump(s)", replayed, len(dumps))
	}
	return replayed, nil
}

func (e *Engine) readyForIngest() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		return notRecoveredErr()
	}
	return nil
}

func (e *Engine) readyStore() (*store.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.stopped {
		return nil, notRecoveredErr()
	}
	return e.store, nil
}

func notRecoveredErr() *errors.EngineError {
	return errors.NewRecoveryError(errors.CodeNotRecovered, "engine is not running", nil)
}
