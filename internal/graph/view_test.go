package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
)

func TestView_Density(t *testing.T) {
	t.Parallel()
	e := setupEngine(t)
	now := time.Now()

	assert.Zero(t, e.Latest().Density(), "an empty graph has zero density")

	// Three nodes, two distinct directed pairs. Self-loops and capability
	// multiplicity must not inflate the count.
	e.ApplyBatch([]schemas.Event{
		ev("A", "B", 1, 1, now),
		{Seq: 2, Timestamp: now, Source: "A", Target: "B", Capability: "grant", Weight: 1},
		ev("B", "C", 1, 1, now),
		ev("C", "C", 1, 1, now),
	})
	assert.InDelta(t, 2.0/6.0, e.Latest().Density(), 1e-9)
}

func TestView_EventsInWindow(t *testing.T) {
	t.Parallel()
	e := setupEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e.ApplyBatch([]schemas.Event{
		ev("A", "B", 1, 1, base),
		ev("A", "B", 2, 2, base.Add(time.Minute)),
		ev("B", "C", 1, 3, base.Add(30*time.Second)),
		ev("A", "B", 3, 4, base.Add(time.Hour)),
	})

	window := schemas.Window{Start: base, End: base.Add(2 * time.Minute)}
	records := e.Latest().EventsInWindow(window)
	require.Len(t, records, 3, "the out-of-window event must be excluded")

	// Ordered by timestamp, ties by sequence.
	assert.Equal(t, "A", records[0].Source)
	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, "B", records[1].Source)
	assert.Equal(t, "A", records[2].Source)
	assert.Equal(t, 2.0, records[2].Weight)
}

func TestView_EventsInWindow_InclusiveBounds(t *testing.T) {
	t.Parallel()
	e := setupEngine(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.ApplyBatch([]schemas.Event{ev("A", "B", 1, 1, base)})

	assert.Len(t, e.Latest().EventsInWindow(schemas.Window{Start: base, End: base}), 1)
	assert.Empty(t, e.Latest().EventsInWindow(schemas.Window{Start: base.Add(time.Nanosecond), End: base.Add(time.Hour)}))
}

func TestViewFromSnapshot(t *testing.T) {
	t.Parallel()
	e := NewEngine(config.GraphConfig{DeltaWindow: 4, ViewRetention: 4}, zaptest.NewLogger(t))
	now := time.Now()
	e.ApplyBatch([]schemas.Event{
		ev("A", "B", 1, 1, now),
		ev("B", "C", 1, 2, now),
	})

	view := ViewFromSnapshot(e.Snapshot())
	assert.Equal(t, uint64(1), view.Version)
	assert.Len(t, view.Nodes, 3)
	assert.Len(t, view.Edges, 2)
	assert.Len(t, view.Out["A"], 1)
	assert.Len(t, view.In["C"], 1)

	summary := view.Summary()
	assert.Equal(t, 3, summary.Nodes)
	assert.Equal(t, 2, summary.Edges)
}
