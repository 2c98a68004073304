// File: internal/analytics/eigenvector.go
// Eigenvector centrality by power iteration over the weighted adjacency
// matrix. Incoming interactions confer centrality, so the iteration runs on
// the transpose.

package analytics

import (
	"gonum.org/v1/gonum/mat"
)

// eigenvector returns the dominant-eigenvector centrality per node,
// L2-normalized. Graphs where the iteration collapses to zero (no edges, or
// no recurrent structure reachable from the start vector) yield all zeros
// rather than an error.
func (c *Calculator) eigenvector(wg *windowGraph) map[string]float64 {
	scores := make(map[string]float64, wg.size())
	n := wg.size()
	if n == 0 {
		return scores
	}
	for _, id := range wg.ids {
		scores[id] = 0
	}
	if n == 1 {
		return scores
	}

	at := mat.NewDense(n, n, nil)
	hasEdge := false
	for from := range wg.out {
		for _, a := range wg.out[from] {
			if a.to == from {
				continue
			}
			// Transposed: row = receiving node.
			at.Set(a.to, from, at.At(a.to, from)+a.weight)
			hasEdge = true
		}
	}
	if !hasEdge {
		return scores
	}

	x := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x.SetVec(i, 1)
	}
	next := mat.NewVecDense(n, nil)

	iters := c.eigenIters
	if iters <= 0 {
		iters = 100
	}
	tol := c.eigenTol
	if tol <= 0 {
		tol = 1e-6
	}

	for iter := 0; iter < iters; iter++ {
		next.MulVec(at, x)
		norm := mat.Norm(next, 2)
		if norm == 0 {
			return scores
		}
		next.ScaleVec(1/norm, next)

		var diff float64
		for i := 0; i < n; i++ {
			d := next.AtVec(i) - x.AtVec(i)
			if d < 0 {
				d = -d
			}
			diff += d
		}
		x.CopyVec(next)
		if diff < tol {
			break
		}
	}

	for i, id := range wg.ids {
		scores[id] = x.AtVec(i)
	}
	return scores
}
