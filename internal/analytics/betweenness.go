// File: internal/analytics/betweenness.go
// Betweenness centrality via Brandes' algorithm with Dijkstra traversal.
// Edge weight is interpreted as path cost; equal-distance ties resolve by
// lexical order of node ID, so repeated runs over the same view agree.

package analytics

import (
	"container/heap"
	"context"
	"math"
	"sort"
)

// betweenness computes normalized betweenness centrality for every node in
// the window graph. The cost is unavoidably super-linear in node count, so a
// graph larger than the configured bound is reduced to its strongest nodes
// (by transiting weight) and the result flagged as truncated.
func (c *Calculator) betweenness(ctx context.Context, wg *windowGraph) (map[string]float64, bool) {
	target := wg
	truncated := false
	if c.maxBetweennessNodes > 0 && wg.size() > c.maxBetweennessNodes {
		target = wg.strongestSubgraph(c.maxBetweennessNodes)
		truncated = true
	}

	scores := make(map[string]float64, wg.size())
	for _, id := range wg.ids {
		scores[id] = 0
	}

	n := target.size()
	if n < 3 {
		return scores, truncated
	}

	raw := make([]float64, n)
	for s := 0; s < n; s++ {
		if ctx.Err() != nil {
			return scores, truncated
		}
		brandesAccumulate(target, s, raw)
	}

	// Directed normalization: fraction of (n-1)(n-2) ordered pairs.
	norm := 1.0 / (float64(n-1) * float64(n-2))
	for i, id := range target.ids {
		scores[id] = raw[i] * norm
	}
	return scores, truncated
}

// brandesAccumulate runs one single-source shortest-path phase and adds the
// dependency contributions into raw.
func brandesAccumulate(wg *windowGraph, source int, raw []float64) {
	n := wg.size()
	dist := make([]float64, n)
	sigma := make([]float64, n)
	delta := make([]float64, n)
	preds := make([][]int, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[source] = 0
	sigma[source] = 1

	pq := &nodeHeap{ids: wg.ids}
	heap.Push(pq, heapItem{node: source, dist: 0})
	var order []int // settled nodes in non-decreasing distance
	settled := make([]bool, n)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		v := item.node
		if settled[v] || item.dist > dist[v] {
			continue
		}
		settled[v] = true
		order = append(order, v)

		for _, a := range wg.out[v] {
			if a.to == v {
				continue
			}
			alt := dist[v] + a.cost
			switch {
			case alt < dist[a.to]:
				dist[a.to] = alt
				sigma[a.to] = sigma[v]
				preds[a.to] = append(preds[a.to][:0], v)
				heap.Push(pq, heapItem{node: a.to, dist: alt})
			case alt == dist[a.to] && !settled[a.to]:
				sigma[a.to] += sigma[v]
				preds[a.to] = append(preds[a.to], v)
			}
		}
	}

	// Dependency accumulation in reverse settlement order.
	for i := len(order) - 1; i >= 0; i-- {
		w := order[i]
		for _, v := range preds[w] {
			if sigma[w] != 0 {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
		}
		if w != source {
			raw[w] += delta[w]
		}
	}
}

// strongestSubgraph keeps the top-n nodes by transiting weight and the arcs
// among them, preserving lexical node ordering.
func (wg *windowGraph) strongestSubgraph(n int) *windowGraph {
	flow := wg.flowAggregates()
	ranked := make([]string, len(wg.ids))
	copy(ranked, wg.ids)
	sort.Slice(ranked, func(i, j int) bool {
		if flow[ranked[i]] != flow[ranked[j]] {
			return flow[ranked[i]] > flow[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	keep := make(map[string]struct{}, n)
	for _, id := range ranked[:n] {
		keep[id] = struct{}{}
	}

	ids := make([]string, 0, n)
	for _, id := range wg.ids {
		if _, ok := keep[id]; ok {
			ids = append(ids, id)
		}
	}

	sub := &windowGraph{
		ids:   ids,
		index: make(map[string]int, len(ids)),
		out:   make([][]arc, len(ids)),
		in:    make([][]arc, len(ids)),
	}
	for i, id := range ids {
		sub.index[id] = i
	}
	for oldIdx, id := range wg.ids {
		newFrom, ok := sub.index[id]
		if !ok {
			continue
		}
		for _, a := range wg.out[oldIdx] {
			newTo, ok := sub.index[wg.ids[a.to]]
			if !ok {
				continue
			}
			sub.out[newFrom] = append(sub.out[newFrom], arc{to: newTo, weight: a.weight, cost: a.cost})
			sub.in[newTo] = append(sub.in[newTo], arc{to: newFrom, weight: a.weight, cost: a.cost})
		}
	}
	return sub
}

// -- Priority queue with (distance, lexical ID) ordering --

type heapItem struct {
	node int
	dist float64
}

type nodeHeap struct {
	ids   []string
	items []heapItem
}

func (h *nodeHeap) Len() int { return len(h.items) }

func (h *nodeHeap) Less(i, j int) bool {
	if h.items[i].dist != h.items[j].dist {
		return h.items[i].dist < h.items[j].dist
	}
	return h.ids[h.items[i].node] < h.ids[h.items[j].node]
}

func (h *nodeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *nodeHeap) Push(x any) { h.items = append(h.items, x.(heapItem)) }

func (h *nodeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
