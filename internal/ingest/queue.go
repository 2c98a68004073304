// File: internal/ingest/queue.go
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

// Queue is a bounded FIFO between concurrent producers and the single graph
// mutator. When full it applies the configured backpressure policy: block
// the producer until space frees, or evict the oldest buffered item and
// admit the new one.
type Queue struct {
	ch     chan schemas.Event
	policy string

	closed    chan struct{}
	closeOnce sync.Once

	drops atomic.Uint64
	log   *zap.Logger
}

// Compile-time interface check.
var _ schemas.IngestionQueue = (*Queue)(nil)

// NewQueue creates a queue with the given capacity and backpressure policy.
func NewQueue(capacity int, policy string, logger *zap.Logger) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	if policy != config.PolicyBlock && policy != config.PolicyDropOldest {
		return nil, fmt.Errorf("unknown backpressure policy %q", policy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		ch:     make(chan schemas.Event, capacity),
		policy: policy,
		closed: make(chan struct{}),
		log:    logger.Named("IngestQueue"),
	}, nil
}

// Enqueue admits an event. Under the blocking policy a full queue suspends
// the caller until space frees, ctx expires, or the queue closes. Under
// drop-oldest the oldest buffered item is evicted, the drop counter bumped,
// and the new event admitted immediately.
func (q *Queue) Enqueue(ctx context.Context, ev schemas.Event) error {
	select {
	case <-q.closed:
		return schemas.ErrQueueClosed
	default:
	}

	// Fast path: free capacity.
	select {
	case q.ch <- ev:
		observability.QueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
	}

	if q.policy == config.PolicyDropOldest {
		for {
			select {
			case <-q.ch:
				q.drops.Add(1)
				observability.QueueDrops.Inc()
			default:
				// The consumer got there first; there is room now.
			}
			select {
			case q.ch <- ev:
				observability.QueueDepth.Set(float64(len(q.ch)))
				return nil
			default:
				// Another producer filled the freed slot; evict again.
			}
		}
	}

	// Blocking policy.
	select {
	case q.ch <- ev:
		observability.QueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", schemas.ErrQueueSaturated, ctx.Err())
	case <-q.closed:
		return schemas.ErrQueueClosed
	}
}

// DequeueBatch blocks until at least one event is buffered, then collects up
// to maxSize events or until maxWait elapses from the first arrival. An
// empty batch with a nil error is only returned after Close. There must be
// exactly one caller.
func (q *Queue) DequeueBatch(ctx context.Context, maxSize int, maxWait time.Duration) ([]schemas.Event, error) {
	if maxSize <= 0 {
		maxSize = 1
	}
	batch := make([]schemas.Event, 0, maxSize)

	// Wait for the first event.
	select {
	case ev := <-q.ch:
		batch = append(batch, ev)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return q.drain(batch, maxSize), nil
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for len(batch) < maxSize {
		select {
		case ev := <-q.ch:
			batch = append(batch, ev)
		case <-timer.C:
			observability.QueueDepth.Set(float64(len(q.ch)))
			return batch, nil
		case <-ctx.Done():
			observability.QueueDepth.Set(float64(len(q.ch)))
			return batch, nil
		case <-q.closed:
			observability.QueueDepth.Set(float64(len(q.ch)))
			return q.drain(batch, maxSize), nil
		}
	}

	observability.QueueDepth.Set(float64(len(q.ch)))
	return batch, nil
}

// drain collects whatever is still buffered after Close, without blocking.
func (q *Queue) drain(batch []schemas.Event, maxSize int) []schemas.Event {
	for len(batch) < maxSize {
		select {
		case ev := <-q.ch:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// Depth reports the current number of buffered events.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Drops reports how many events were evicted under the drop-oldest policy.
func (q *Queue) Drops() uint64 {
	return q.drops.Load()
}

// Close rejects further enqueues and wakes the consumer. Buffered events
// remain dequeueable until drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		q.log.Info("Ingestion queue closed", zap.Int("buffered", len(q.ch)))
	})
}
