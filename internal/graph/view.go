// File: internal/graph/view.go
package graph

import (
	"maps"
	"slices"
	"sort"

	"github.com/xkilldash9x/capgraph/api/schemas"
)

// View is one committed, immutable version of the graph. Anything handed to
// a reader must never be mutated afterwards; the engine copies every node,
// edge and adjacency slice it touches before publishing the next version, so
// any number of readers can hold a View without coordination.
type View struct {
	Version uint64
	Stamp   int64 // UnixNano of the commit
	Nodes   map[string]*schemas.Node
	Edges   map[schemas.EdgeKey]*schemas.Edge
	Out     map[string][]schemas.EdgeKey
	In      map[string][]schemas.EdgeKey
	// Events is the cumulative count of applied events up to this version.
	Events uint64
}

// emptyView is the state of a cold-started engine before any commit.
func emptyView() *View {
	return &View{
		Nodes: make(map[string]*schemas.Node),
		Edges: make(map[schemas.EdgeKey]*schemas.Edge),
		Out:   make(map[string][]schemas.EdgeKey),
		In:    make(map[string][]schemas.EdgeKey),
	}
}

// clone makes a shallow working copy for the single writer. Node and edge
// values are copied lazily, only when a mutation touches them.
func (v *View) clone() *View {
	return &View{
		Version: v.Version,
		Stamp:   v.Stamp,
		Nodes:   maps.Clone(v.Nodes),
		Edges:   maps.Clone(v.Edges),
		Out:     maps.Clone(v.Out),
		In:      maps.Clone(v.In),
		Events:  v.Events,
	}
}

// Density is the ratio of distinct directed actor pairs with at least one
// edge to the number of possible pairs.
func (v *View) Density() float64 {
	n := len(v.Nodes)
	if n <= 1 {
		return 0
	}
	pairs := make(map[[2]string]struct{}, len(v.Edges))
	for key := range v.Edges {
		if key.Source == key.Target {
			continue
		}
		pairs[[2]string{key.Source, key.Target}] = struct{}{}
	}
	return float64(len(pairs)) / float64(n*(n-1))
}

// EventsInWindow reconstructs event records from the bounded per-edge delta
// history, ordered by timestamp then sequence. Deltas that fell out of the
// rolling window are gone; older ranges are answered from snapshots.
func (v *View) EventsInWindow(w schemas.Window) []schemas.EventRecord {
	var records []schemas.EventRecord
	for _, edge := range v.Edges {
		for _, d := range edge.Deltas {
			if !w.Contains(d.Timestamp) {
				continue
			}
			records = append(records, schemas.EventRecord{
				Seq:        d.Seq,
				Timestamp:  d.Timestamp,
				Source:     edge.Source,
				Target:     edge.Target,
				Capability: edge.Capability,
				Weight:     d.Weight,
			})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		if records[i].Seq != records[j].Seq {
			return records[i].Seq < records[j].Seq
		}
		return records[i].Source < records[j].Source
	})
	return records
}

// Summary returns the headline counts for this version.
func (v *View) Summary() schemas.GraphSummary {
	return schemas.GraphSummary{
		Nodes:   len(v.Nodes),
		Edges:   len(v.Edges),
		Events:  int(v.Events),
		Density: v.Density(),
	}
}

// ViewFromSnapshot rebuilds an immutable view from a persisted snapshot.
func ViewFromSnapshot(snap schemas.Snapshot) *View {
	v := emptyView()
	v.Version = snap.Version
	v.Stamp = snap.Timestamp.UnixNano()
	v.Events = snap.Events
	for i := range snap.Nodes {
		node := snap.Nodes[i]
		v.Nodes[node.ID] = &node
	}
	for i := range snap.Edges {
		edge := snap.Edges[i]
		edge.Deltas = slices.Clone(edge.Deltas)
		key := edge.Key()
		v.Edges[key] = &edge
		v.Out[edge.Source] = append(v.Out[edge.Source], key)
		v.In[edge.Target] = append(v.In[edge.Target], key)
	}
	return v
}
