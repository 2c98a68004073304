// Component contracts for the streaming graph engine. The orchestrator and
// query service are injected with these interfaces rather than concrete
// types, which keeps them decoupled and testable.

package schemas

import (
	"context"
	"time"
)

// IngestionQueue is the bounded buffer between validated producers and the
// single graph mutator. Implementations must be safe for many concurrent
// enqueuers and exactly one dequeuer.
type IngestionQueue interface {
	// Enqueue admits an event, applying the configured backpressure policy
	// when the queue is full. Under the blocking policy it waits until space
	// frees or ctx expires.
	Enqueue(ctx context.Context, ev Event) error

	// DequeueBatch blocks until maxSize items are available or maxWait
	// elapses, then returns whatever is buffered. An empty batch with a nil
	// error is only returned after Close.
	DequeueBatch(ctx context.Context, maxSize int, maxWait time.Duration) ([]Event, error)

	// Depth reports the current number of buffered items.
	Depth() int

	// Close wakes the consumer and rejects further enqueues.
	Close()
}

// SnapshotStore persists write-once captures of graph state in an
// append-only, versioned layout.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error

	// Latest returns the most recent snapshot, or ErrNoSnapshots.
	Latest(ctx context.Context) (Snapshot, error)

	// At returns the closest snapshot with version <= the request.
	At(ctx context.Context, version uint64) (Snapshot, error)

	// AtTime returns the closest snapshot taken at or before ts.
	AtTime(ctx context.Context, ts time.Time) (Snapshot, error)

	Close() error
}

// ResultCache memoizes calculator output keyed by (window, metric set,
// graph version).
type ResultCache interface {
	Get(key CacheKey) (*AnalyticsResult, bool)
	Put(key CacheKey, result *AnalyticsResult)

	// Invalidate drops entries whose window end falls within the hot horizon
	// of the version bump and returns how many were evicted. Fully closed
	// historical windows survive.
	Invalidate(version uint64, now time.Time) int
}
