package schemas

import (
	"time"
)

// CapabilityType is the categorical label describing the nature of an
// interaction between two actors (e.g. a service call, a resource grant).
type CapabilityType string

// RawEvent is the wire form of an interaction event as produced by an event
// source. Field names are explicit and self-describing; the timestamp is
// epoch seconds (fractional), matching the resolution of the robot-side
// publishers.
type RawEvent struct {
	Seq        uint64            `json:"seq"`
	Timestamp  float64           `json:"ts"`
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Capability string            `json:"capability"`
	Weight     float64           `json:"weight"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Event is a validated, typed interaction event. Immutable once accepted.
type Event struct {
	Seq        uint64            `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Capability CapabilityType    `json:"capability"`
	Weight     float64           `json:"weight"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// EventRecord is the query-boundary projection of an event, reconstructed
// from edge delta history or snapshots. It omits the open metadata bag, which
// is not retained beyond the ingestion path.
type EventRecord struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Capability CapabilityType `json:"capability"`
	Weight     float64        `json:"weight"`
}

// EventPage is a paginated slice of reconstructed events.
type EventPage struct {
	Events   []EventRecord `json:"events"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int           `json:"total"`
	Version  uint64        `json:"graph_version"`
}

// IngestResult reports the outcome of an ingress batch. Per-event failures
// are isolated: a rejected event never aborts the rest of the batch.
type IngestResult struct {
	Accepted  int               `json:"accepted"`
	Rejected  int               `json:"rejected"`
	Rejection map[string]string `json:"rejections,omitempty"` // index -> reason
}
