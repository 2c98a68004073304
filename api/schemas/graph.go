package schemas

import (
	"time"
)

// -- Canonical Graph Data Model --

// Node represents a single actor (capability) in the interaction graph. Nodes
// are created lazily on first reference and never deleted within a session;
// an explicit eviction pass may prune them.
type Node struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	InWeight  float64   `json:"in_weight"`
	OutWeight float64   `json:"out_weight"`
}

// EdgeKey identifies a directed edge in the multigraph. Multiple capability
// types between the same actor pair coexist as distinct edges, so the
// capability is part of the key.
type EdgeKey struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Capability CapabilityType `json:"capability"`
}

// WeightDelta is a single accumulation sample retained for playback and
// sub-window metric precision. Edges keep a bounded ring of these, most
// recent last.
type WeightDelta struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Weight    float64   `json:"weight"`
}

// Edge represents a directed, weighted interaction between two actors for one
// capability type. Weight only grows under normal ingestion; the explicit
// decay pass is the sole path that lowers it.
type Edge struct {
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Capability  CapabilityType `json:"capability"`
	Weight      float64        `json:"weight"`
	LastUpdated time.Time      `json:"last_updated"`
	Deltas      []WeightDelta  `json:"deltas,omitempty"`
}

// Key returns the multigraph key for this edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Capability: e.Capability}
}

// Snapshot is a write-once, full capture of graph state at a committed
// version, used for crash recovery and historical as-of queries. SourceSeqs
// carries the per-source sequence floor so ingestion resumes where the
// snapshot left off.
type Snapshot struct {
	ID         string            `json:"id"`
	Version    uint64            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Events     uint64            `json:"events"`
	Nodes      []Node            `json:"nodes"`
	Edges      []Edge            `json:"edges"`
	SourceSeqs map[string]uint64 `json:"source_seqs"`
}

// GraphSummary carries the headline counts served alongside analytics.
type GraphSummary struct {
	Nodes   int     `json:"nodes"`
	Edges   int     `json:"edges"`
	Events  int     `json:"events"`
	Density float64 `json:"density"`
}
