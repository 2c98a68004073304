package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/analytics"
	"github.com/xkilldash9x/capgraph/internal/cache"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/graph"
	"github.com/xkilldash9x/capgraph/internal/ingest"
	"github.com/xkilldash9x/capgraph/internal/snapshot"
	"github.com/xkilldash9x/capgraph/internal/validator"
)

const testSecret = "test-secret"

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*Server
	http  *httptest.Server
	queue *ingest.Queue
}

func setupServer(t *testing.T, mutate func(*config.ServerConfig)) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg := config.ServerConfig{
		AuthSecret:      testSecret,
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
		ShutdownTimeout: time.Second,
		MaxPageSize:     1000,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	engine := graph.NewEngine(config.GraphConfig{DeltaWindow: 64, ViewRetention: 8}, logger)
	engine.ApplyBatch([]schemas.Event{
		{Seq: 1, Timestamp: testBase, Source: "navigation", Target: "map_server", Capability: "service_call", Weight: 1},
		{Seq: 1, Timestamp: testBase.Add(time.Second), Source: "map_server", Target: "planner", Capability: "topic", Weight: 2},
		{Seq: 2, Timestamp: testBase.Add(2 * time.Second), Source: "navigation", Target: "map_server", Capability: "service_call", Weight: 3},
	})

	store, err := snapshot.NewFSStore(t.TempDir(), logger)
	require.NoError(t, err)

	queue, err := ingest.NewQueue(64, config.PolicyBlock, logger)
	require.NoError(t, err)
	t.Cleanup(queue.Close)

	srv := New(cfg, 5*time.Second, Deps{
		Engine:    engine,
		Calc:      analytics.New(config.AnalyticsConfig{MaxBetweennessNodes: 100, EigenvectorIters: 50, EigenvectorTol: 1e-6}, logger),
		Cache:     cache.New(config.CacheConfig{Capacity: 32, TTL: time.Minute, HotHorizon: 5 * time.Minute}, logger),
		Snapshots: store,
		Queue:     queue,
		Validator: validator.New(0, logger),
	}, logger)

	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return &testServer{Server: srv, http: ts, queue: queue}
}

func mintToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	if subject != "" {
		claims["sub"] = subject
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func (ts *testServer) request(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func windowQuery(start, end time.Time) string {
	return fmt.Sprintf("start=%s&end=%s", start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

func TestServer_Healthz_IsPublic(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, nil)

	resp := ts.request(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["graph_version"])
}

func TestServer_Auth(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, nil)
	path := "/api/v1/events?" + windowQuery(testBase, testBase.Add(time.Minute))

	t.Run("missing token", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong secret", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, path, mintToken(t, "other-secret", "mallory"), "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing subject", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, path, mintToken(t, testSecret, ""), "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid token", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, path, mintToken(t, testSecret, "alice"), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_RateLimit_PerCredential(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, func(cfg *config.ServerConfig) {
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 2
	})
	path := "/api/v1/events?" + windowQuery(testBase, testBase.Add(time.Minute))

	alice := mintToken(t, testSecret, "alice")
	for i := 0; i < 2; i++ {
		resp := ts.request(t, http.MethodGet, path, alice, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := ts.request(t, http.MethodGet, path, alice, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "the burst must fail fast, not queue")

	// A different credential has its own bucket.
	resp = ts.request(t, http.MethodGet, path, mintToken(t, testSecret, "bob"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_GetEvents(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, nil)
	token := mintToken(t, testSecret, "alice")

	t.Run("window filter and ordering", func(t *testing.T) {
		path := "/api/v1/events?" + windowQuery(testBase, testBase.Add(time.Second))
		resp := ts.request(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := decodeBody[schemas.EventPage](t, resp)
		require.Equal(t, 2, page.Total)
		assert.Equal(t, "navigation", page.Events[0].Source)
		assert.Equal(t, "map_server", page.Events[1].Source)
		assert.Equal(t, uint64(1), page.Version)
	})

	t.Run("min weight filter", func(t *testing.T) {
		path := "/api/v1/events?minWeight=2&" + windowQuery(testBase, testBase.Add(time.Minute))
		resp := ts.request(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := decodeBody[schemas.EventPage](t, resp)
		require.Equal(t, 2, page.Total)
		for _, ev := range page.Events {
			assert.GreaterOrEqual(t, ev.Weight, 2.0)
		}
	})

	t.Run("label filter matches either endpoint", func(t *testing.T) {
		path := "/api/v1/events?label=planner&" + windowQuery(testBase, testBase.Add(time.Minute))
		resp := ts.request(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := decodeBody[schemas.EventPage](t, resp)
		require.Equal(t, 1, page.Total)
		assert.Equal(t, "planner", page.Events[0].Target)
	})

	t.Run("invalid regex degrades to substring", func(t *testing.T) {
		path := "/api/v1/events?label=NAVIGATION%28&" + windowQuery(testBase, testBase.Add(time.Minute))
		resp := ts.request(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := decodeBody[schemas.EventPage](t, resp)
		assert.Zero(t, page.Total, "the literal pattern including the paren matches nothing")
	})

	t.Run("pagination", func(t *testing.T) {
		path := "/api/v1/events?page=2&pageSize=2&" + windowQuery(testBase, testBase.Add(time.Minute))
		resp := ts.request(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		page := decodeBody[schemas.EventPage](t, resp)
		assert.Equal(t, 3, page.Total)
		assert.Len(t, page.Events, 1)
	})

	t.Run("bad window", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/api/v1/events?start=zzz&end=2026-03-01T12:00:00Z", token, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("inverted window", func(t *testing.T) {
		path := "/api/v1/events?" + windowQuery(testBase.Add(time.Hour), testBase)
		resp := ts.request(t, http.MethodGet, path, token, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_Ingest(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, nil)
	token := mintToken(t, testSecret, "alice")

	t.Run("mixed batch isolates rejections", func(t *testing.T) {
		body := fmt.Sprintf(`[
			{"seq": 10, "ts": %d, "source": "camera", "target": "recorder", "capability": "topic", "weight": 1},
			{"seq": 11, "ts": %d, "source": "", "target": "recorder", "capability": "topic", "weight": 1}
		]`, testBase.Unix(), testBase.Unix())

		resp := ts.request(t, http.MethodPost, "/api/v1/events", token, body)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		result := decodeBody[schemas.IngestResult](t, resp)
		assert.Equal(t, 1, result.Accepted)
		assert.Equal(t, 1, result.Rejected)
		assert.Contains(t, result.Rejection, "1")
		assert.Equal(t, 1, ts.queue.Depth(), "the valid event must reach the queue")
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := ts.request(t, http.MethodPost, "/api/v1/events", token, `{"not":"an array"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_Analytics(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, nil)
	token := mintToken(t, testSecret, "alice")
	window := windowQuery(testBase.Add(-time.Minute), testBase.Add(time.Minute))

	t.Run("computes and caches", func(t *testing.T) {
		path := "/api/v1/analytics?metrics=degree,flow&" + window
		resp := ts.request(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		first := decodeBody[schemas.AnalyticsResult](t, resp)
		assert.Equal(t, uint64(1), first.Version)
		assert.Contains(t, first.Degree, "map_server")
		assert.InDelta(t, 1.0, first.Degree["map_server"].Total, 1e-9)

		resp = ts.request(t, http.MethodGet, path, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		second := decodeBody[schemas.AnalyticsResult](t, resp)
		assert.Equal(t, first.ComputedAt, second.ComputedAt, "the second request must be served from cache")
	})

	t.Run("inactive fallback is cached separately", func(t *testing.T) {
		// A window none of the retained deltas touch: the strict result is
		// empty, the relaxed one falls back to accumulated weights. Caching
		// one must never answer for the other.
		inactive := windowQuery(testBase.Add(time.Hour), testBase.Add(2*time.Hour))

		resp := ts.request(t, http.MethodGet, "/api/v1/analytics?metrics=flow&includeInactive=true&"+inactive, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		relaxed := decodeBody[schemas.AnalyticsResult](t, resp)
		require.NotEmpty(t, relaxed.Flow)

		resp = ts.request(t, http.MethodGet, "/api/v1/analytics?metrics=flow&"+inactive, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		strict := decodeBody[schemas.AnalyticsResult](t, resp)
		assert.Empty(t, strict.Flow, "the strict request must not be served the relaxed cached result")
	})

	t.Run("unknown metric", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/api/v1/analytics?metrics=pagerank&"+window, token, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unavailable version", func(t *testing.T) {
		resp := ts.request(t, http.MethodGet, "/api/v1/analytics?version=999&"+window, token, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("historical version still resolvable", func(t *testing.T) {
		// Persist the current state, then advance the live graph.
		require.NoError(t, ts.snapshots.Save(t.Context(), ts.engine.Snapshot()))
		ts.engine.ApplyBatch([]schemas.Event{
			{Seq: 3, Timestamp: testBase.Add(3 * time.Second), Source: "navigation", Target: "planner", Capability: "topic", Weight: 1},
		})

		resp := ts.request(t, http.MethodGet, "/api/v1/analytics?version=1&metrics=flow&"+window, token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decodeBody[schemas.AnalyticsResult](t, resp)
		assert.Equal(t, uint64(1), result.Version)
	})
}
