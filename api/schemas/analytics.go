package schemas

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MetricName identifies a single graph-theoretic measure the calculator can
// produce.
type MetricName string

const (
	MetricDegree      MetricName = "degree"
	MetricBetweenness MetricName = "betweenness"
	MetricClustering  MetricName = "clustering"
	MetricFlow        MetricName = "flow"
	MetricEigenvector MetricName = "eigenvector"
)

// allMetrics is the closed set of supported metric names.
var allMetrics = map[MetricName]struct{}{
	MetricDegree:      {},
	MetricBetweenness: {},
	MetricClustering:  {},
	MetricFlow:        {},
	MetricEigenvector: {},
}

// MetricSet is a canonical (sorted, deduplicated) collection of metric names.
type MetricSet []MetricName

// ParseMetricSet parses a comma-separated metric list into a canonical set.
// An empty input selects every supported metric.
func ParseMetricSet(raw string) (MetricSet, error) {
	if strings.TrimSpace(raw) == "" {
		set := make(MetricSet, 0, len(allMetrics))
		for m := range allMetrics {
			set = append(set, m)
		}
		sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
		return set, nil
	}

	seen := make(map[MetricName]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := MetricName(strings.ToLower(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		if _, ok := allMetrics[name]; !ok {
			return nil, fmt.Errorf("unknown metric %q", name)
		}
		seen[name] = struct{}{}
	}
	set := make(MetricSet, 0, len(seen))
	for m := range seen {
		set = append(set, m)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set, nil
}

// Contains reports whether the set includes the given metric.
func (s MetricSet) Contains(m MetricName) bool {
	for _, name := range s {
		if name == m {
			return true
		}
	}
	return false
}

// String renders the canonical comma-joined form, suitable as a cache key
// component.
func (s MetricSet) String() string {
	parts := make([]string, len(s))
	for i, m := range s {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

// Window is a closed time interval over which metrics are computed.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether ts falls inside the window (inclusive bounds).
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// DegreeScore holds normalized degree centrality for one node.
type DegreeScore struct {
	In    float64 `json:"in"`
	Out   float64 `json:"out"`
	Total float64 `json:"total"`
}

// AnalyticsResult is the full output of one calculator run. Maps are keyed by
// node ID and only populated for the metrics that were requested. Version is
// the graph version the result was computed against, so callers can detect
// staleness.
type AnalyticsResult struct {
	Version     uint64                 `json:"graph_version"`
	Window      Window                 `json:"window"`
	Metrics     MetricSet              `json:"metrics"`
	ComputedAt  time.Time              `json:"computed_at"`
	Truncated   bool                   `json:"truncated,omitempty"`
	Summary     GraphSummary           `json:"summary"`
	Degree      map[string]DegreeScore `json:"degree,omitempty"`
	Betweenness map[string]float64     `json:"betweenness,omitempty"`
	Clustering  map[string]float64     `json:"clustering,omitempty"`
	Flow        map[string]float64     `json:"flow,omitempty"`
	Eigenvector map[string]float64     `json:"eigenvector,omitempty"`
}

// CacheKey identifies a memoized analytics result. Window bounds are stored
// as UnixNano so the key is comparable. IncludeInactive is part of the
// identity: the same window computed with and without the inactive-edge
// fallback yields different results.
type CacheKey struct {
	WindowStart     int64
	WindowEnd       int64
	Metrics         string
	Version         uint64
	IncludeInactive bool
}

// NewCacheKey builds the cache key for one computation request.
func NewCacheKey(w Window, set MetricSet, version uint64, includeInactive bool) CacheKey {
	return CacheKey{
		WindowStart:     w.Start.UnixNano(),
		WindowEnd:       w.End.UnixNano(),
		Metrics:         set.String(),
		Version:         version,
		IncludeInactive: includeInactive,
	}
}
