// File: internal/graph/engine.go
// Description: Owns the canonical directed weighted multigraph. A single
// logical writer applies dequeued batches and publishes each result as a new
// immutable version under one atomic pointer swap; readers always see either
// the entire pre-batch state or the entire post-batch state.

package graph

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

// CommitHook is invoked after each published version with the new version
// number. Used for cache invalidation and snapshot cadence checks.
type CommitHook func(version uint64)

// Engine owns the mutable graph state. All mutation goes through ApplyBatch,
// Decay or EvictBefore, which must be called from a single goroutine (the
// queue consumer); reads are lock-free against the published view.
type Engine struct {
	log         *zap.Logger
	deltaWindow int
	retention   int

	current atomic.Pointer[View]

	mu      sync.Mutex
	lastSeq map[string]uint64
	history []*View // recent published versions, most recent last
	hooks   []CommitHook

	orderingRejects atomic.Uint64

	// applyDelay, when set, runs between mutation and publication. Tests use
	// it to widen the window in which a torn read could be observed.
	applyDelay func()
}

// NewEngine creates an engine with an empty version-0 graph.
func NewEngine(cfg config.GraphConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		log:         logger.Named("GraphEngine"),
		deltaWindow: cfg.DeltaWindow,
		retention:   cfg.ViewRetention,
		lastSeq:     make(map[string]uint64),
	}
	e.current.Store(emptyView())
	return e
}

// Restore seeds the engine from a recovered snapshot: graph state, version
// counter and the per-source sequence floors.
func (e *Engine) Restore(snap schemas.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	view := ViewFromSnapshot(snap)
	e.lastSeq = maps.Clone(snap.SourceSeqs)
	if e.lastSeq == nil {
		e.lastSeq = make(map[string]uint64)
	}
	e.current.Store(view)
	e.history = append(e.history[:0], view)
	observability.GraphVersion.Set(float64(view.Version))
	e.log.Info("Graph state restored from snapshot",
		zap.Uint64("version", snap.Version),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)))
}

// OnCommit registers a hook fired after every published version. Must be
// called before ingestion starts.
func (e *Engine) OnCommit(hook CommitHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, hook)
}

// Latest returns the current published view. Lock-free.
func (e *Engine) Latest() *View {
	return e.current.Load()
}

// AsOf returns the retained view for an exact version, or
// ErrVersionUnavailable when it has aged out of the retention ring.
func (e *Engine) AsOf(version uint64) (*View, error) {
	if v := e.current.Load(); v.Version == version {
		return v, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Version == version {
			return e.history[i], nil
		}
	}
	return nil, schemas.ErrVersionUnavailable
}

// OrderingRejects reports how many events were dropped for stale sequence
// numbers.
func (e *Engine) OrderingRejects() uint64 {
	return e.orderingRejects.Load()
}

// ApplyBatch applies one dequeued batch in arrival order and publishes the
// result as a single new version. Events with stale per-source sequence
// numbers are rejected individually and never alter state. Returns the
// published version (unchanged if nothing applied) and the counts.
func (e *Engine) ApplyBatch(events []schemas.Event) (version uint64, applied, rejected int) {
	e.mu.Lock()

	base := e.current.Load()
	work := base.clone()
	touched := make(map[string]bool)      // node IDs copied in this batch
	touchedEdge := make(map[schemas.EdgeKey]bool)

	for _, ev := range events {
		if last, ok := e.lastSeq[ev.Source]; ok && ev.Seq <= last {
			rejected++
			e.orderingRejects.Add(1)
			observability.EventRejections.WithLabelValues("ordering").Inc()
			e.log.Debug("Stale sequence rejected",
				zap.Error(&schemas.OrderingViolation{Source: ev.Source, Seq: ev.Seq, LastSeq: last}))
			continue
		}
		e.lastSeq[ev.Source] = ev.Seq
		e.applyEvent(work, ev, touched, touchedEdge)
		applied++
	}

	if applied == 0 {
		e.mu.Unlock()
		return base.Version, 0, rejected
	}

	work.Version = base.Version + 1
	work.Stamp = time.Now().UnixNano()
	work.Events = base.Events + uint64(applied)

	if e.applyDelay != nil {
		e.applyDelay()
	}

	hooks := e.publish(work)
	e.mu.Unlock()
	fireHooks(hooks, work.Version)
	observability.EventsApplied.Add(float64(applied))
	return work.Version, applied, rejected
}

// applyEvent accumulates one event into the working copy. Nodes and edges
// are deep-copied the first time the batch touches them so the previous
// view's values stay frozen.
func (e *Engine) applyEvent(work *View, ev schemas.Event, touched map[string]bool, touchedEdge map[schemas.EdgeKey]bool) {
	src := e.ensureNode(work, ev.Source, ev.Timestamp, touched)
	src.OutWeight += ev.Weight
	if ev.Timestamp.After(src.LastSeen) {
		src.LastSeen = ev.Timestamp
	}

	tgt := e.ensureNode(work, ev.Target, ev.Timestamp, touched)
	tgt.InWeight += ev.Weight
	if ev.Timestamp.After(tgt.LastSeen) {
		tgt.LastSeen = ev.Timestamp
	}

	key := schemas.EdgeKey{Source: ev.Source, Target: ev.Target, Capability: ev.Capability}
	edge, ok := work.Edges[key]
	switch {
	case !ok:
		edge = &schemas.Edge{
			Source:     ev.Source,
			Target:     ev.Target,
			Capability: ev.Capability,
		}
		work.Edges[key] = edge
		work.Out[ev.Source] = append(slices.Clone(work.Out[ev.Source]), key)
		work.In[ev.Target] = append(slices.Clone(work.In[ev.Target]), key)
		touchedEdge[key] = true
	case !touchedEdge[key]:
		cp := *edge
		cp.Deltas = slices.Clone(edge.Deltas)
		edge = &cp
		work.Edges[key] = edge
		touchedEdge[key] = true
	}

	edge.Weight += ev.Weight
	if ev.Timestamp.After(edge.LastUpdated) {
		edge.LastUpdated = ev.Timestamp
	}
	edge.Deltas = append(edge.Deltas, schemas.WeightDelta{
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Weight:    ev.Weight,
	})
	if len(edge.Deltas) > e.deltaWindow {
		edge.Deltas = edge.Deltas[len(edge.Deltas)-e.deltaWindow:]
	}
}

func (e *Engine) ensureNode(work *View, id string, ts time.Time, touched map[string]bool) *schemas.Node {
	node, ok := work.Nodes[id]
	if !ok {
		node = &schemas.Node{
			ID:        id,
			Label:     id,
			FirstSeen: ts,
			LastSeen:  ts,
		}
		work.Nodes[id] = node
		touched[id] = true
		return node
	}
	if !touched[id] {
		cp := *node
		node = &cp
		work.Nodes[id] = node
		touched[id] = true
	}
	return node
}

// publish swaps in the new version. Caller holds the writer lock and must
// fire the returned hooks only after releasing it: hooks are free to call
// back into the engine (the snapshot cadence hook does).
func (e *Engine) publish(work *View) []CommitHook {
	e.current.Store(work)
	e.history = append(e.history, work)
	if len(e.history) > e.retention {
		e.history = e.history[len(e.history)-e.retention:]
	}
	observability.GraphVersion.Set(float64(work.Version))
	return e.hooks
}

func fireHooks(hooks []CommitHook, version uint64) {
	for _, hook := range hooks {
		hook(version)
	}
}

// Decay scales every edge and node weight by factor in (0, 1]. This is the
// only ingestion-independent path that lowers weights, published as its own
// version.
func (e *Engine) Decay(factor float64) uint64 {
	if factor <= 0 || factor > 1 {
		return e.current.Load().Version
	}
	e.mu.Lock()

	base := e.current.Load()
	work := base.clone()
	for id, node := range work.Nodes {
		cp := *node
		cp.InWeight *= factor
		cp.OutWeight *= factor
		work.Nodes[id] = &cp
	}
	for key, edge := range work.Edges {
		cp := *edge
		cp.Deltas = slices.Clone(edge.Deltas)
		cp.Weight *= factor
		work.Edges[key] = &cp
	}
	work.Version = base.Version + 1
	work.Stamp = time.Now().UnixNano()
	hooks := e.publish(work)
	e.mu.Unlock()
	fireHooks(hooks, work.Version)
	e.log.Info("Decay pass published", zap.Float64("factor", factor), zap.Uint64("version", work.Version))
	return work.Version
}

// EvictBefore prunes edges last updated before the cutoff and nodes that end
// up with no incident edges and were last seen before the cutoff. Published
// as its own version.
func (e *Engine) EvictBefore(cutoff time.Time) uint64 {
	e.mu.Lock()

	base := e.current.Load()
	work := emptyView()
	work.Events = base.Events

	for key, edge := range base.Edges {
		if edge.LastUpdated.Before(cutoff) {
			continue
		}
		work.Edges[key] = edge
		work.Out[key.Source] = append(work.Out[key.Source], key)
		work.In[key.Target] = append(work.In[key.Target], key)
	}
	for id, node := range base.Nodes {
		if len(work.Out[id]) == 0 && len(work.In[id]) == 0 && node.LastSeen.Before(cutoff) {
			continue
		}
		work.Nodes[id] = node
	}

	if len(work.Nodes) == len(base.Nodes) && len(work.Edges) == len(base.Edges) {
		e.mu.Unlock()
		return base.Version
	}

	work.Version = base.Version + 1
	work.Stamp = time.Now().UnixNano()
	hooks := e.publish(work)
	e.mu.Unlock()
	fireHooks(hooks, work.Version)
	e.log.Info("Eviction pass published",
		zap.Time("cutoff", cutoff),
		zap.Int("nodes", len(work.Nodes)),
		zap.Int("edges", len(work.Edges)),
		zap.Uint64("version", work.Version))
	return work.Version
}

// Snapshot captures the current published state as a write-once snapshot,
// including the per-source sequence floors needed to resume ingestion.
func (e *Engine) Snapshot() schemas.Snapshot {
	e.mu.Lock()
	seqs := maps.Clone(e.lastSeq)
	view := e.current.Load()
	e.mu.Unlock()
	snap := schemas.Snapshot{
		ID:         uuid.NewString(),
		Version:    view.Version,
		Timestamp:  time.Unix(0, view.Stamp).UTC(),
		Events:     view.Events,
		Nodes:      make([]schemas.Node, 0, len(view.Nodes)),
		Edges:      make([]schemas.Edge, 0, len(view.Edges)),
		SourceSeqs: seqs,
	}
	if view.Stamp == 0 {
		snap.Timestamp = time.Now().UTC()
	}
	for _, node := range view.Nodes {
		snap.Nodes = append(snap.Nodes, *node)
	}
	for _, edge := range view.Edges {
		cp := *edge
		cp.Deltas = slices.Clone(edge.Deltas)
		snap.Edges = append(snap.Edges, cp)
	}
	return snap
}
