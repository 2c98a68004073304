package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricSet(t *testing.T) {
	t.Parallel()

	t.Run("empty selects everything, sorted", func(t *testing.T) {
		set, err := ParseMetricSet("")
		require.NoError(t, err)
		assert.Equal(t, MetricSet{MetricBetweenness, MetricClustering, MetricDegree, MetricEigenvector, MetricFlow}, set)
	})

	t.Run("canonicalizes case, spacing and duplicates", func(t *testing.T) {
		set, err := ParseMetricSet(" Flow, degree ,flow,")
		require.NoError(t, err)
		assert.Equal(t, MetricSet{MetricDegree, MetricFlow}, set)
		assert.Equal(t, "degree,flow", set.String())
	})

	t.Run("unknown metric", func(t *testing.T) {
		_, err := ParseMetricSet("degree,pagerank")
		assert.Error(t, err)
	})
}

func TestMetricSet_Contains(t *testing.T) {
	t.Parallel()
	set := MetricSet{MetricDegree, MetricFlow}
	assert.True(t, set.Contains(MetricDegree))
	assert.False(t, set.Contains(MetricBetweenness))
}

func TestWindow_Contains_InclusiveBounds(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(time.Hour)}

	assert.True(t, w.Contains(start))
	assert.True(t, w.Contains(start.Add(time.Hour)))
	assert.True(t, w.Contains(start.Add(30*time.Minute)))
	assert.False(t, w.Contains(start.Add(-time.Nanosecond)))
	assert.False(t, w.Contains(start.Add(time.Hour+time.Nanosecond)))
}

func TestNewCacheKey_IsStable(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(time.Hour)}

	a := NewCacheKey(w, MetricSet{MetricDegree, MetricFlow}, 7, false)
	b := NewCacheKey(w, MetricSet{MetricDegree, MetricFlow}, 7, false)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, NewCacheKey(w, MetricSet{MetricDegree}, 7, false), "the metric set is part of the identity")
	assert.NotEqual(t, a, NewCacheKey(w, MetricSet{MetricDegree, MetricFlow}, 8, false), "the graph version is part of the identity")
	assert.NotEqual(t, a, NewCacheKey(w, MetricSet{MetricDegree, MetricFlow}, 7, true), "the inactive-edge fallback is part of the identity")
}
