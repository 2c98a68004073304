package schemas

import (
	"errors"
	"fmt"
)

// Sentinel errors for request-boundary and lifecycle failures. All per-event
// failures are isolated to that event; none of these ever aborts a batch or
// the engine itself.
var (
	// ErrQueueSaturated reports that the ingestion queue was full and the
	// blocking backpressure wait was abandoned (context expiry or shutdown).
	ErrQueueSaturated = errors.New("ingestion queue saturated")

	// ErrQueueClosed is returned by queue operations after shutdown.
	ErrQueueClosed = errors.New("ingestion queue closed")

	// ErrComputationTimeout reports that a metric calculation exceeded its
	// budget. The cache is left unpopulated for that key.
	ErrComputationTimeout = errors.New("analytics computation exceeded its budget")

	// ErrUnauthorized is returned when a request carries an absent or invalid
	// credential. Rejected before any engine work occurs.
	ErrUnauthorized = errors.New("missing or invalid credential")

	// ErrRateLimited is returned when a credential exceeds its request-rate
	// ceiling. The request is failed, not queued.
	ErrRateLimited = errors.New("request rate limit exceeded")

	// ErrNoSnapshots is returned by a snapshot store with nothing persisted.
	ErrNoSnapshots = errors.New("no snapshots available")

	// ErrVersionUnavailable is returned when an as-of read names a version
	// that is neither retained in memory nor covered by a snapshot.
	ErrVersionUnavailable = errors.New("graph version not retained")
)

// ValidationError reports a malformed or out-of-range input event, carrying
// the offending field. Dropped and counted, never fatal.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: field %q %s", e.Field, e.Reason)
}

// OrderingViolation reports an event whose sequence number is not greater
// than the last accepted one for its source. The event is dropped and
// counted; graph state is untouched.
type OrderingViolation struct {
	Source  string
	Seq     uint64
	LastSeq uint64
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("stale sequence %d for source %q (last accepted %d)", e.Seq, e.Source, e.LastSeq)
}

// RecoveryDataLoss is informational: events between the recovered snapshot
// and the crash are unrecoverable. Logged at startup, not an operational
// failure.
type RecoveryDataLoss struct {
	SnapshotVersion uint64
}

func (e *RecoveryDataLoss) Error() string {
	return fmt.Sprintf("events after snapshot version %d are unrecoverable", e.SnapshotVersion)
}
