// File: internal/analytics/calculator.go
// Description: Pure functions of (graph view, time window, metric set). The
// calculator never mutates graph state; it builds a window-filtered working
// graph once and runs the requested measures against it.

package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/graph"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

// Calculator computes graph-theoretic measures against a specific immutable
// view and time window.
type Calculator struct {
	log                 *zap.Logger
	maxBetweennessNodes int
	eigenIters          int
	eigenTol            float64
}

// New creates a Calculator bounded by the analytics configuration.
func New(cfg config.AnalyticsConfig, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		log:                 logger.Named("Calculator"),
		maxBetweennessNodes: cfg.MaxBetweennessNodes,
		eigenIters:          cfg.EigenvectorIters,
		eigenTol:            cfg.EigenvectorTol,
	}
}

// Compute evaluates the requested metric set over the view restricted to the
// window. A window with no graph activity yields a well-formed zero result,
// never an error. The context is checked between phases; an expired deadline
// surfaces as ErrComputationTimeout and the partial result is discarded.
func (c *Calculator) Compute(ctx context.Context, view *graph.View, window schemas.Window, set schemas.MetricSet, includeInactive bool) (*schemas.AnalyticsResult, error) {
	result := &schemas.AnalyticsResult{
		Version:    view.Version,
		Window:     window,
		Metrics:    set,
		ComputedAt: time.Now().UTC(),
		Summary:    view.Summary(),
	}

	wg := buildWindowGraph(view, window, includeInactive)

	for _, metric := range set {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		switch metric {
		case schemas.MetricDegree:
			result.Degree = wg.degreeCentrality()
		case schemas.MetricBetweenness:
			var truncated bool
			result.Betweenness, truncated = c.betweenness(ctx, wg)
			result.Truncated = result.Truncated || truncated
			if err := ctxErr(ctx); err != nil {
				return nil, err
			}
		case schemas.MetricClustering:
			result.Clustering = wg.clusteringCoefficients()
		case schemas.MetricFlow:
			result.Flow = wg.flowAggregates()
		case schemas.MetricEigenvector:
			result.Eigenvector = c.eigenvector(wg)
		default:
			return nil, fmt.Errorf("unsupported metric %q", metric)
		}
		observability.ComputeDuration.WithLabelValues(string(metric)).Observe(time.Since(start).Seconds())
	}

	return result, nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", schemas.ErrComputationTimeout, err)
		}
		return err
	}
	return nil
}

// -- Window-filtered working graph --

// arc is an aggregated directed connection between two actors: weight is the
// in-window sum across capability edges, cost the cheapest single edge
// (weight interpreted as path cost).
type arc struct {
	to     int
	weight float64
	cost   float64
}

// windowGraph is the collapsed, window-filtered projection the measures run
// on. Node indices are assigned in lexical ID order so every computation is
// deterministic.
type windowGraph struct {
	ids   []string
	index map[string]int
	out   [][]arc
	in    [][]arc
}

// windowWeight resolves the weight an edge contributes inside the window.
// Sub-window precision comes from the delta ring; an edge whose retained
// deltas miss the window entirely is excluded unless includeInactive is set,
// in which case its full accumulated weight counts.
func windowWeight(edge *schemas.Edge, w schemas.Window, includeInactive bool) (float64, bool) {
	var sum float64
	active := false
	for _, d := range edge.Deltas {
		if w.Contains(d.Timestamp) {
			sum += d.Weight
			active = true
		}
	}
	// A zero-weight delta is still in-window activity; only an edge with no
	// retained deltas in the window falls through to the inactive fallback.
	if active {
		return sum, true
	}
	if includeInactive {
		return edge.Weight, true
	}
	return 0, false
}

func buildWindowGraph(view *graph.View, w schemas.Window, includeInactive bool) *windowGraph {
	type pair struct{ from, to int }

	included := make(map[string]struct{})
	weights := make(map[schemas.EdgeKey]float64)
	for key, edge := range view.Edges {
		weight, ok := windowWeight(edge, w, includeInactive)
		if !ok {
			continue
		}
		weights[key] = weight
		included[key.Source] = struct{}{}
		included[key.Target] = struct{}{}
	}

	ids := make([]string, 0, len(included))
	for id := range included {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	wg := &windowGraph{
		ids:   ids,
		index: make(map[string]int, len(ids)),
		out:   make([][]arc, len(ids)),
		in:    make([][]arc, len(ids)),
	}
	for i, id := range ids {
		wg.index[id] = i
	}

	// Collapse the multigraph per directed pair: weights add up, cost is the
	// cheapest capability edge.
	agg := make(map[pair]*arc)
	for key, weight := range weights {
		p := pair{from: wg.index[key.Source], to: wg.index[key.Target]}
		a, ok := agg[p]
		if !ok {
			agg[p] = &arc{to: p.to, weight: weight, cost: weight}
			continue
		}
		a.weight += weight
		if weight < a.cost {
			a.cost = weight
		}
	}
	for p, a := range agg {
		wg.out[p.from] = append(wg.out[p.from], *a)
		back := *a
		back.to = p.from
		wg.in[p.to] = append(wg.in[p.to], back)
	}
	// Deterministic adjacency order.
	for i := range wg.out {
		sort.Slice(wg.out[i], func(a, b int) bool { return wg.out[i][a].to < wg.out[i][b].to })
		sort.Slice(wg.in[i], func(a, b int) bool { return wg.in[i][a].to < wg.in[i][b].to })
	}
	return wg
}

func (wg *windowGraph) size() int { return len(wg.ids) }

// degreeCentrality normalizes distinct in/out neighbor counts by n-1.
func (wg *windowGraph) degreeCentrality() map[string]schemas.DegreeScore {
	scores := make(map[string]schemas.DegreeScore, wg.size())
	n := wg.size()
	if n == 0 {
		return scores
	}
	norm := 1.0
	if n > 1 {
		norm = 1.0 / float64(n-1)
	}
	for i, id := range wg.ids {
		in := float64(countNeighbors(wg.in[i], i))
		out := float64(countNeighbors(wg.out[i], i))
		scores[id] = schemas.DegreeScore{
			In:    in * norm,
			Out:   out * norm,
			Total: (in + out) * norm,
		}
	}
	return scores
}

// countNeighbors counts arcs excluding self-loops; adjacency already holds
// one arc per distinct pair.
func countNeighbors(arcs []arc, self int) int {
	n := 0
	for _, a := range arcs {
		if a.to != self {
			n++
		}
	}
	return n
}

// clusteringCoefficients computes the local coefficient per node over the
// undirected projection, ignoring self-loops.
func (wg *windowGraph) clusteringCoefficients() map[string]float64 {
	coeffs := make(map[string]float64, wg.size())

	// Undirected neighbor sets.
	neighbors := make([]map[int]struct{}, wg.size())
	for i := range neighbors {
		neighbors[i] = make(map[int]struct{})
	}
	for i := range wg.out {
		for _, a := range wg.out[i] {
			if a.to == i {
				continue
			}
			neighbors[i][a.to] = struct{}{}
			neighbors[a.to][i] = struct{}{}
		}
	}

	for i, id := range wg.ids {
		k := len(neighbors[i])
		if k < 2 {
			coeffs[id] = 0
			continue
		}
		links := 0
		list := make([]int, 0, k)
		for nb := range neighbors[i] {
			list = append(list, nb)
		}
		for a := 0; a < len(list); a++ {
			for b := a + 1; b < len(list); b++ {
				if _, ok := neighbors[list[a]][list[b]]; ok {
					links++
				}
			}
		}
		coeffs[id] = 2 * float64(links) / float64(k*(k-1))
	}
	return coeffs
}

// flowAggregates returns the total weight transiting each node within the
// window (in plus out).
func (wg *windowGraph) flowAggregates() map[string]float64 {
	flow := make(map[string]float64, wg.size())
	for i, id := range wg.ids {
		var total float64
		for _, a := range wg.in[i] {
			total += a.weight
		}
		for _, a := range wg.out[i] {
			total += a.weight
		}
		flow[id] = total
	}
	return flow
}
