// Package queue provides the bounded multi-producer ingestion buffer that
// sits between event producers and the batch writer.
//
// The queue never loses an event silently: when full, the configured
// overflow policy either blocks the producer (bounded by a timeout that
// surfaces a retryable backpressure error) or drops an event and increments
// an observable counter. Ordering within a single producer's submissions is
// preserved; no cross-producer ordering is guaranteed.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracefold/tracefold/internal/config"
	"github.com/tracefold/tracefold/internal/errors"
	"github.com/tracefold/tracefold/pkg/types"
)

// Queue is a bounded, thread-safe multi-producer event buffer.
type Queue struct {
	ch            chan types.Event
	policy        config.OverflowPolicy
	submitTimeout time.Duration

	submitted atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool

	// evictMu serializes drop-oldest evictions so two producers cannot
	// both evict for a single free slot.
	evictMu sync.Mutex
}

// New creates a queue with the given capacity, overflow policy, and submit
// timeout for the blocking policy.
func New(capacity int, policy config.OverflowPolicy, submitTimeout time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:            make(chan types.Event, capacity),
		policy:        policy,
		submitTimeout: submitTimeout,
	}
}

// Submit enqueues a single event. Under the block policy it waits up to the
// submit timeout for space and then returns a retryable backpressure error.
// Under the drop policies it returns immediately; drops are counted, never
// errors.
func (q *Queue) Submit(ctx context.Context, ev types.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return errors.NewIngestError(errors.CodeQueueClosed, "ingestion queue is closed")
	}

	switch q.policy {
	case config.OverflowDropNewest:
		select {
		case q.ch <- ev:
			q.submitted.Add(1)
		default:
			q.dropped.Add(1)
		}
		return nil

	case config.OverflowDropOldest:
		q.evictMu.Lock()
		defer q.evictMu.Unlock()
		for {
			select {
			case q.ch <- ev:
				q.submitted.Add(1)
				return nil
			default:
			}
			// Full: evict the head and retry. The consumer may race us for
			// the head; either way a slot opens up.
			select {
			case <-q.ch:
				q.dropped.Add(1)
			default:
			}
		}

	default: // config.OverflowBlock
		select {
		case q.ch <- ev:
			q.submitted.Add(1)
			return nil
		default:
		}

		timer := time.NewTimer(q.submitTimeout)
		defer timer.Stop()
		select {
		case q.ch <- ev:
			q.submitted.Add(1)
			return nil
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCategoryIngest, errors.CodeSubmitCancelled, "submit cancelled", ctx.Err())
		case <-timer.C:
			q.dropped.Add(1)
			return errors.NewIngestError(errors.CodeQueueFull, "ingestion queue is full")
		}
	}
}

// SubmitBatch enqueues multiple events in order. It stops at the first
// submission error; events before the failure remain queued.
func (q *Queue) SubmitBatch(ctx context.Context, evs []types.Event) error {
	for i := range evs {
		if err := q.Submit(ctx, evs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Events exposes the receive side for the single batch-writer consumer.
func (q *Queue) Events() <-chan types.Event {
	return q.ch
}

// Len returns the current number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Submitted returns the total number of accepted events.
func (q *Queue) Submitted() int64 {
	return q.submitted.Load()
}

// Dropped returns the total number of events lost to the overflow policy.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close rejects further submissions and closes the receive channel so the
// consumer can drain the remainder and exit.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
