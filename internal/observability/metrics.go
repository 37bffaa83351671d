// Package observability provides in-process ingestion counters and the
// periodic stats snapshotter.
package observability

import "sync/atomic"

// Metrics holds monotonically increasing ingestion counters. All methods
// are safe for concurrent use; readers get a point-in-time copy via
// Snapshot.
type Metrics struct {
	submitted     atomic.Int64
	dropped       atomic.Int64
	inserted      atomic.Int64
	duplicates    atomic.Int64
	flushes       atomic.Int64
	failedBatches atomic.Int64
	failedEvents  atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	// Submitted counts events accepted into the ingestion queue.
	Submitted int64 `json:"submitted"`

	// Dropped counts events rejected or evicted by the overflow policy.
	Dropped int64 `json:"dropped"`

	// Inserted counts events durably committed.
	Inserted int64 `json:"inserted"`

	// Duplicates counts events absorbed as dedup no-ops.
	Duplicates int64 `json:"duplicates"`

	// Flushes counts committed batches.
	Flushes int64 `json:"flushes"`

	// FailedBatches counts batches dumped for replay after exhausting retries.
	FailedBatches int64 `json:"failed_batches"`

	// FailedEvents counts events inside dumped batches.
	FailedEvents int64 `json:"failed_events"`
}

// NewMetrics returns a zeroed counter set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// SetQueueCounters overwrites the queue-side counters. The queue owns the
// authoritative submitted and dropped counts; the engine copies them in
// whenever a snapshot is taken.
func (m *Metrics) SetQueueCounters(submitted, dropped int64) {
	m.submitted.Store(submitted)
	m.dropped.Store(dropped)
}

// RecordFlush records one committed batch.
func (m *Metrics) RecordFlush(inserted, duplicates int) {
	m.flushes.Add(1)
	m.inserted.Add(int64(inserted))
	m.duplicates.Add(int64(duplicates))
}

// RecordFailedBatch records one batch dumped for replay.
func (m *Metrics) RecordFailedBatch(eventCount int) {
	m.failedBatches.Add(1)
	m.failedEvents.Add(int64(eventCount))
}

// Inserted returns the committed event count.
func (m *Metrics) Inserted() int64 {
	return m.inserted.Load()
}

// Snapshot copies all counters at once.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Submitted:     m.submitted.Load(),
		Dropped:       m.dropped.Load(),
		Inserted:      m.inserted.Load(),
		Duplicates:    m.duplicates.Load(),
		Flushes:       m.flushes.Load(),
		FailedBatches: m.failedBatches.Load(),
		FailedEvents:  m.failedEvents.Load(),
	}
}
