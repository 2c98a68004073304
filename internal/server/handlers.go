// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/graph"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseTimeParam accepts epoch seconds (fractional allowed) or RFC 3339.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing time parameter")
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Unix(0, int64(secs*1e9)).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q", raw)
	}
	return ts.UTC(), nil
}

func parseWindow(r *http.Request) (schemas.Window, error) {
	start, err := parseTimeParam(r.URL.Query().Get("start"))
	if err != nil {
		return schemas.Window{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseTimeParam(r.URL.Query().Get("end"))
	if err != nil {
		return schemas.Window{}, fmt.Errorf("end: %w", err)
	}
	if end.Before(start) {
		return schemas.Window{}, fmt.Errorf("window end precedes start")
	}
	return schemas.Window{Start: start, End: end}, nil
}

// labelMatcher compiles a regex-style label filter. A pattern that fails to
// compile degrades to a case-insensitive substring match instead of erroring
// the request.
func labelMatcher(pattern string) func(string) bool {
	if pattern == "" {
		return func(string) bool { return true }
	}
	rx, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		needle := strings.ToLower(pattern)
		return func(s string) bool {
			return strings.Contains(strings.ToLower(s), needle)
		}
	}
	return func(s string) bool { return rx.MatchString(s) }
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	view := s.engine.Latest()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"graph_version": view.Version,
		"queue_depth":   s.queue.Depth(),
	})
}

// handleGetEvents serves the event-range query: delta history from the live
// view merged with snapshot reconstruction for ranges that have aged out of
// the rolling window, filtered and paginated.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	minWeight := 0.0
	if raw := q.Get("minWeight"); raw != "" {
		minWeight, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "minWeight: not a number")
			return
		}
	}
	match := labelMatcher(q.Get("label"))

	page := 1
	if raw := q.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "page: must be a positive integer")
			return
		}
	}
	pageSize := 100
	if raw := q.Get("pageSize"); raw != "" {
		if pageSize, err = strconv.Atoi(raw); err != nil || pageSize < 1 {
			writeError(w, http.StatusBadRequest, "pageSize: must be a positive integer")
			return
		}
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}

	view := s.engine.Latest()
	records := s.collectEvents(r.Context(), view, window)

	filtered := records[:0]
	for _, rec := range records {
		if rec.Weight < minWeight {
			continue
		}
		if !match(rec.Source) && !match(rec.Target) {
			continue
		}
		filtered = append(filtered, rec)
	}

	total := len(filtered)
	lo := (page - 1) * pageSize
	if lo > total {
		lo = total
	}
	hi := lo + pageSize
	if hi > total {
		hi = total
	}

	writeJSON(w, http.StatusOK, schemas.EventPage{
		Events:   filtered[lo:hi],
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Version:  view.Version,
	})
}

// collectEvents merges live delta history with the closest historical
// snapshot covering the window, deduplicating by (source, seq).
func (s *Server) collectEvents(ctx context.Context, view *graph.View, window schemas.Window) []schemas.EventRecord {
	records := view.EventsInWindow(window)

	snap, err := s.snapshots.AtTime(ctx, window.End)
	if err != nil || snap.Version >= view.Version {
		return records
	}

	type eventID struct {
		source string
		seq    uint64
	}
	seen := make(map[eventID]struct{}, len(records))
	for _, rec := range records {
		seen[eventID{rec.Source, rec.Seq}] = struct{}{}
	}
	for _, rec := range graph.ViewFromSnapshot(snap).EventsInWindow(window) {
		id := eventID{rec.Source, rec.Seq}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		records = append(records, rec)
	}
	sortEventRecords(records)
	return records
}

func sortEventRecords(records []schemas.EventRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		if records[i].Seq != records[j].Seq {
			return records[i].Seq < records[j].Seq
		}
		return records[i].Source < records[j].Source
	})
}

// handleIngest is the HTTP ingress: validate then enqueue a batch of raw
// events. Rejections are reported per event and never abort the batch.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var raws []schemas.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		writeError(w, http.StatusBadRequest, "body: expected a JSON array of events")
		return
	}

	result := schemas.IngestResult{Rejection: make(map[string]string)}
	for i, raw := range raws {
		ev, err := s.validator.Validate(raw)
		if err != nil {
			result.Rejected++
			result.Rejection[strconv.Itoa(i)] = err.Error()
			continue
		}
		if err := s.queue.Enqueue(r.Context(), ev); err != nil {
			result.Rejected++
			result.Rejection[strconv.Itoa(i)] = err.Error()
			continue
		}
		result.Accepted++
	}
	if result.Rejected == 0 {
		result.Rejection = nil
	}
	writeJSON(w, http.StatusAccepted, result)
}

// handleAnalytics resolves a metric-set request through the result cache,
// computing on miss under a shared singleflight computation bounded by the
// calculator timeout. The response always names the graph version it was
// computed against.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	set, err := schemas.ParseMetricSet(r.URL.Query().Get("metrics"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	includeInactive := r.URL.Query().Get("includeInactive") == "true"

	view, err := s.resolveView(r.Context(), r.URL.Query().Get("version"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	key := schemas.NewCacheKey(window, set, view.Version, includeInactive)
	if result, ok := s.cache.Get(key); ok {
		writeJSON(w, http.StatusOK, result)
		return
	}

	result, err := s.computeShared(r.Context(), key, view, window, set)
	switch {
	case errors.Is(err, schemas.ErrComputationTimeout):
		writeError(w, http.StatusGatewayTimeout, schemas.ErrComputationTimeout.Error())
		return
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request abandoned")
		return
	case err != nil:
		s.log.Error("Analytics computation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "analytics computation failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// computeShared runs the calculator once per cache key regardless of how
// many requests are waiting. The computation carries its own timeout budget
// detached from the request: a caller that gives up abandons the wait, but
// the computation is left to finish and populate the cache for later
// callers.
func (s *Server) computeShared(ctx context.Context, key schemas.CacheKey, view *graph.View, window schemas.Window, set schemas.MetricSet) (*schemas.AnalyticsResult, error) {
	flightKey := fmt.Sprintf("%d:%d:%s:%d:%t", key.WindowStart, key.WindowEnd, key.Metrics, key.Version, key.IncludeInactive)

	ch := s.flight.DoChan(flightKey, func() (any, error) {
		computeCtx, cancel := context.WithTimeout(context.Background(), s.computeTimeout)
		defer cancel()
		result, err := s.calc.Compute(computeCtx, view, window, set, key.IncludeInactive)
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, result)
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*schemas.AnalyticsResult), nil
	case <-ctx.Done():
		return nil, context.Canceled
	}
}

// resolveView resolves the requested graph version: latest by default, a
// retained in-memory view when available, else snapshot reconstruction.
func (s *Server) resolveView(ctx context.Context, raw string) (*graph.View, error) {
	if raw == "" || raw == "latest" {
		return s.engine.Latest(), nil
	}
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("version: not a number")
	}
	if view, err := s.engine.AsOf(version); err == nil {
		return view, nil
	}
	snap, err := s.snapshots.At(ctx, version)
	if err != nil {
		return nil, schemas.ErrVersionUnavailable
	}
	return graph.ViewFromSnapshot(snap), nil
}
