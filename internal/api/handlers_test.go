package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/trading-dashboard/internal/alert"
	"github.com/trogers1052/trading-dashboard/internal/dashboard"
	"github.com/trogers1052/trading-dashboard/internal/feed"
	"github.com/trogers1052/trading-dashboard/internal/logger"
	"github.com/trogers1052/trading-dashboard/internal/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// stubFetcher answers every feed with a fixed body, or an error.
type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
}

func (f *stubFetcher) Fetch(ctx context.Context, desc feed.Descriptor, contextKey string) (any, error) {
	f.mu.Lock()
	body, ok := f.bodies[desc.Key]
	err := f.errs[desc.Key]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &feed.FetchError{Kind: feed.NetworkError, Feed: desc.Key, StatusCode: 404, Err: errors.New("not found")}
	}
	return desc.Decode([]byte(body))
}

type stubCloser struct {
	result models.CloseResult
	err    error
}

func (c *stubCloser) ClosePosition(ctx context.Context, symbol string) (models.CloseResult, error) {
	return c.result, c.err
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error {
	return p.err
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type apiFixture struct {
	server  *httptest.Server
	session *dashboard.Session
	closer  *stubCloser
	hub     *Hub
}

func testDescriptors() []feed.Descriptor {
	return []feed.Descriptor{
		{Key: dashboard.FeedPositions, Path: "/positions", Interval: time.Hour, Decode: feed.JSONDecoder[models.Positions](feed.ObjectShape)},
		{Key: dashboard.FeedStatus, Path: "/status", Interval: time.Hour, Decode: feed.JSONDecoder[models.Status](feed.ObjectShape)},
		{Key: dashboard.FeedHistory, Path: "/positions/{context}/history", Interval: time.Hour, Decode: feed.JSONDecoder[[]models.HistoryPoint](feed.ArrayShape)},
	}
}

func newAPIFixture(t *testing.T, fetcher feed.Fetcher, opts ...HandlerOption) *apiFixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	registry := feed.NewRegistry(fetcher, feed.NewMetrics(reg), logger.Discard())
	alerts := alert.NewQueue(time.Minute, logger.Discard())
	closer := &stubCloser{}

	session, err := dashboard.NewSession(registry, alerts, closer, dashboard.Options{
		Descriptors:  testDescriptors(),
		PnLThreshold: decimal.NewFromInt(100),
	}, logger.Discard())
	require.NoError(t, err)

	hub := NewHub(logger.Discard())
	registry.Subscribe(hub.OnFeedState)
	alerts.Subscribe(hub.OnAlert)

	handler := NewHandler(session, hub, logger.Discard(), opts...)
	srv := httptest.NewServer(SetupRoutes(handler, reg, NewHTTPMetrics(reg)))

	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		session.Dispose()
	})
	return &apiFixture{server: srv, session: session, closer: closer, hub: hub}
}

func (fx *apiFixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, fx.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func defaultFetcher() *stubFetcher {
	return &stubFetcher{
		bodies: map[string]string{
			dashboard.FeedPositions: `{"AAPL": {"side": "long", "unrealized_pnl": 20}}`,
			dashboard.FeedHistory:   `[{"timestamp": "2024-01-01T10:00:00", "value": 5}]`,
		},
		errs: map[string]error{
			dashboard.FeedStatus: &feed.FetchError{Kind: feed.NetworkError, Feed: dashboard.FeedStatus, StatusCode: 503, Err: errors.New("unavailable")},
		},
	}
}

func (fx *apiFixture) startAndWait(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.session.Start())
	require.Eventually(t, func() bool {
		pos, _ := fx.session.Registry().CurrentState(dashboard.FeedPositions)
		status, _ := fx.session.Registry().CurrentState(dashboard.FeedStatus)
		return pos.HasSnapshot() && status.Errored()
	}, time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Feed routes
// ---------------------------------------------------------------------------

func TestHandler_ListFeeds(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())
	fx.startAndWait(t)

	resp := fx.do(t, http.MethodGet, "/api/v1/feeds")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]map[string]any
	decodeBody(t, resp, &body)
	require.Contains(t, body, dashboard.FeedPositions)
	assert.Equal(t, false, body[dashboard.FeedPositions]["loading"])
	assert.Equal(t, "none", body[dashboard.FeedPositions]["error_kind"])
	assert.Equal(t, "network_error", body[dashboard.FeedStatus]["error_kind"])
	assert.Contains(t, body[dashboard.FeedStatus]["error"], "unavailable")
}

func TestHandler_GetFeed(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())
	fx.startAndWait(t)

	resp := fx.do(t, http.MethodGet, "/api/v1/feeds/positions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Key      string                     `json:"key"`
		Snapshot map[string]json.RawMessage `json:"snapshot"`
		Sequence uint64                     `json:"sequence"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "positions", body.Key)
	assert.Contains(t, body.Snapshot, "AAPL")
	assert.Equal(t, uint64(1), body.Sequence)

	resp = fx.do(t, http.MethodGet, "/api/v1/feeds/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_RefreshFeed(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())
	fx.startAndWait(t)

	resp := fx.do(t, http.MethodPost, "/api/v1/feeds/positions/refresh")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		st, _ := fx.session.Registry().CurrentState(dashboard.FeedPositions)
		return st.Sequence == 2
	}, time.Second, 5*time.Millisecond)

	resp = fx.do(t, http.MethodPost, "/api/v1/feeds/nope/refresh")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_SelectHistory(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())
	fx.startAndWait(t)

	resp := fx.do(t, http.MethodPut, "/api/v1/history/AAPL")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		st, _ := fx.session.Registry().CurrentState(dashboard.FeedHistory)
		return st.HasSnapshot() && st.ContextKey == "AAPL"
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_GetSummary(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())
	fx.startAndWait(t)

	resp := fx.do(t, http.MethodGet, "/api/v1/summary")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sum dashboard.Summary
	decodeBody(t, resp, &sum)
	assert.Equal(t, 1, sum.OpenPositions)
	assert.Equal(t, "20", sum.UnrealizedPnl.String())
	assert.Contains(t, sum.Errors, dashboard.FeedStatus)
}

// ---------------------------------------------------------------------------
// Alerts and actions
// ---------------------------------------------------------------------------

func TestHandler_AlertLifecycle(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())

	resp := fx.do(t, http.MethodGet, "/api/v1/alert")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	fx.session.Alerts().Push("hello")

	resp = fx.do(t, http.MethodGet, "/api/v1/alert")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var a alert.Alert
	decodeBody(t, resp, &a)
	assert.Equal(t, "hello", a.Message)

	resp = fx.do(t, http.MethodDelete, "/api/v1/alert")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, ok := fx.session.Alerts().Current()
	assert.False(t, ok)
}

func TestHandler_ClosePosition(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())

	fx.closer.result = models.CloseResult{Status: "closed", Symbol: "AAPL"}
	resp := fx.do(t, http.MethodPost, "/api/v1/positions/AAPL/close")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fx.closer.result = models.CloseResult{Error: "Brak pozycji do zamknięcia"}
	resp = fx.do(t, http.MethodPost, "/api/v1/positions/AAPL/close")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var result models.CloseResult
	decodeBody(t, resp, &result)
	assert.Equal(t, "Brak pozycji do zamknięcia", result.Error)

	fx.closer.result = models.CloseResult{}
	fx.closer.err = &feed.FetchError{Kind: feed.NetworkError, Feed: "close_position", Err: errors.New("refused")}
	resp = fx.do(t, http.MethodPost, "/api/v1/positions/AAPL/close")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	current, ok := fx.session.Alerts().Current()
	require.True(t, ok)
	assert.Equal(t, "Błąd zamykania pozycji", current.Message)
}

func TestHandler_ExportPositions(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())

	resp := fx.do(t, http.MethodGet, "/api/v1/positions/export.csv")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	fx.startAndWait(t)

	resp = fx.do(t, http.MethodGet, "/api/v1/positions/export.csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "symbol,side,details", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "AAPL,long,"))
}

// ---------------------------------------------------------------------------
// Health and metrics
// ---------------------------------------------------------------------------

func TestHandler_HealthCheck(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher(), WithRedis(&stubPinger{}), WithKafka(true))
	fx.startAndWait(t)

	resp := fx.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
		Feeds    map[string]string `json:"feeds"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "healthy", body.Services["redis"])
	assert.Equal(t, "configured", body.Services["kafka"])
	assert.Equal(t, "ok", body.Feeds[dashboard.FeedPositions])
	assert.Equal(t, "network_error", body.Feeds[dashboard.FeedStatus])
	assert.Equal(t, "pending", body.Feeds[dashboard.FeedHistory])
}

func TestHandler_HealthCheckRedisDown(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher(), WithRedis(&stubPinger{err: errors.New("connection refused")}))

	resp := fx.do(t, http.MethodGet, "/health")
	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unhealthy: connection refused", body.Services["redis"])
	assert.Equal(t, "not configured", body.Services["kafka"])
}

func TestRoutes_Metrics(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())
	fx.startAndWait(t)
	fx.do(t, http.MethodGet, "/api/v1/feeds/positions")

	resp := fx.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dashboard_feed_attempts_total{feed="positions",outcome="accepted"} 1`)
	assert.Contains(t, string(body), `dashboard_http_requests_total{method="GET",path="/api/v1/feeds/{key}",status="200"} 1`)
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func TestHandler_StreamPushesChanges(t *testing.T) {
	fx := newAPIFixture(t, defaultFetcher())

	wsURL := "ws" + strings.TrimPrefix(fx.server.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Initial state: one event per registered feed
	for i := 0; i < len(testDescriptors()); i++ {
		var ev StreamEvent
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, EventFeed, ev.Type)
	}

	require.Eventually(t, func() bool { return fx.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	fx.session.Alerts().Push("Pozycja AAPL zamknięta!")

	var ev StreamEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventAlert, ev.Type)
	require.NotNil(t, ev.Alert)
	assert.Equal(t, "Pozycja AAPL zamknięta!", ev.Alert.Message)
	assert.True(t, ev.Active)
}
