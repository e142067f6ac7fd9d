package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/appshare1603/VanLive/internal/auth"
	"github.com/appshare1603/VanLive/internal/domain"
	"github.com/appshare1603/VanLive/internal/logger"
	"github.com/appshare1603/VanLive/internal/pipeline"
	"github.com/appshare1603/VanLive/internal/store"
)

type testServer struct {
	*httptest.Server
	dispatcher *pipeline.Dispatcher
}

type serverOption func(*Options)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	log := logger.Discard()
	st, err := store.NewRingStore(50)
	require.NoError(t, err)
	thresholds, err := pipeline.NewThresholdSet(domain.DefaultThresholds)
	require.NoError(t, err)
	eval := pipeline.NewAlertEvaluator(thresholds)
	disp := pipeline.NewDispatcher(8, log)

	o := Options{
		Ingestor:          pipeline.NewIngestor(st, eval, disp, nil, log),
		Query:             pipeline.NewQuery(st, eval, 15*time.Second),
		Dispatcher:        disp,
		Logger:            log,
		MaxBodyBytes:      1024,
		WriteTimeout:      time.Second,
		HeartbeatInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	router := NewRouter(o)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		disp.Close()
		srv.Close()
	})
	return &testServer{Server: srv, dispatcher: disp}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestIngestThenLatest(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples",
		`{"vehicle_id":"ignored","gas_ppm":400,"battery_start_v":12.0,"pitch_deg":0,"roll_deg":0}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))
	body := decode(t, resp)
	alerts := body["alerts"].([]any)
	require.Len(t, alerts, 1)
	require.Equal(t, "GAS_ALARM", alerts[0].(map[string]any)["type"])
	require.Equal(t, "van-1", body["sample"].(map[string]any)["vehicle_id"], "path id wins")

	resp = srv.do(t, http.MethodGet, "/v1/vehicles/van-1/latest", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode(t, resp)
	require.Equal(t, 400.0, body["sample"].(map[string]any)["gas_ppm"])
	require.Equal(t, 15.0, body["poll_interval_seconds"])
	_, hasTemp := body["sample"].(map[string]any)["temp_in_c"]
	require.False(t, hasTemp, "absent fields are not fabricated")
}

func TestIngestErrors(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{"temp_in_c":200,"humidity_pct":-3}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode(t, resp)
	require.Len(t, body["fields"].([]any), 2)

	resp = srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{"temp_in_c":`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := `{"temp_in_c":20,"pad":"` + strings.Repeat("x", 2048) + `"}`
	resp = srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", big, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/v1/vehicles/van-1/latest", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "rejected samples leave nothing behind")
}

func TestIngestDefaultsBodyLimit(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.MaxBodyBytes = 0 })

	resp := srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{"gas_ppm":20}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	big := `{"forecast":"` + strings.Repeat("x", defaultMaxBodyBytes) + `"}`
	resp = srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", big, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHistoryWindowFleetAndRemove(t *testing.T) {
	srv := newTestServer(t)
	base := time.Date(2026, time.July, 3, 18, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		resp := srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{"timestamp":"`+ts+`"}`, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := srv.do(t, http.MethodGet, "/v1/vehicles/van-1/history?limit=3", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode(t, resp)["samples"].([]any), 3)

	resp = srv.do(t, http.MethodGet, "/v1/vehicles/van-1/history?limit=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/v1/vehicles/van-1/window?duration=2m", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode(t, resp)["samples"].([]any), 3)

	resp = srv.do(t, http.MethodGet, "/v1/vehicles/van-1/window?duration=soon", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/v1/vehicles", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode(t, resp)["vehicles"].([]any), 1)

	resp = srv.do(t, http.MethodDelete, "/v1/vehicles/van-1", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = srv.do(t, http.MethodDelete, "/v1/vehicles/van-1", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/v1/vehicles/van-1/history", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type keyTable map[string]string

func (k keyTable) GetDeviceVehicle(_ context.Context, apiKey string) (string, error) {
	return k[apiKey], nil
}

func TestAuth(t *testing.T) {
	a := auth.NewAuthenticator([]string{"ops"}, keyTable{"node-1": "van-1"}, time.Minute)
	srv := newTestServer(t, func(o *Options) { o.Auth = NewAuthMiddleware(a) })
	path := "/v1/vehicles/van-1/samples"

	resp := srv.do(t, http.MethodPost, path, `{}`, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, path, `{}`, map[string]string{apiKeyHeader: "bogus"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/v1/vehicles/van-2/samples", `{}`, map[string]string{apiKeyHeader: "node-1"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, path, `{}`, map[string]string{apiKeyHeader: "node-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/v1/vehicles", "", map[string]string{apiKeyHeader: "node-1"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "fleet listing needs an operator key")
	resp = srv.do(t, http.MethodGet, "/v1/vehicles", "", map[string]string{apiKeyHeader: "ops"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "health stays public")
}

func TestRateLimitPerVehicle(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.RateLimitPerMinute = 2 })

	for i := 0; i < 2; i++ {
		resp := srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{}`, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{}`, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp = srv.do(t, http.MethodPost, "/v1/vehicles/van-2/samples", `{}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "limits are per vehicle")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.HealthChecks = map[string]HealthCheck{
			"redis":    func(context.Context) error { return nil },
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		}
	})

	resp := srv.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]any)
	require.Equal(t, "up", components["redis"].(map[string]any)["status"])
	require.Equal(t, "down", components["postgres"].(map[string]any)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{}`, nil)

	resp := srv.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "vanlive_ingestion_samples_accepted_total")
}

func TestSSEStream(t *testing.T) {
	srv := newTestServer(t)
	srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{"gas_ppm":10}`, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/vehicles/van-1/stream", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return srv.dispatcher.SubscriberCount("van-1") == 1 },
		time.Second, 5*time.Millisecond)
	srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{"gas_ppm":500}`, nil)

	var events []domain.Event
	sawPing := false
	scanner := bufio.NewScanner(resp.Body)
	for (len(events) < 2 || !sawPing) && scanner.Scan() {
		line := scanner.Text()
		if line == ": ping" {
			sawPing = true
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev domain.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			events = append(events, ev)
		}
	}
	require.Len(t, events, 2)
	require.Equal(t, 10, *events[0].Sample.GasPpm, "stream starts with the latest sample")
	require.Equal(t, 500, *events[1].Sample.GasPpm)
	require.True(t, events[1].Alerts.Has(domain.AlertGasAlarm))
	require.True(t, sawPing)

	cancel()
	require.Eventually(t, func() bool { return srv.dispatcher.SubscriberCount("van-1") == 0 },
		time.Second, 5*time.Millisecond, "disconnect unsubscribes")
}

func TestWebSocketStream(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.HeartbeatInterval = time.Second })
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/vehicles/van-1/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool { return srv.dispatcher.SubscriberCount("van-1") == 1 },
		time.Second, 5*time.Millisecond)
	srv.do(t, http.MethodPost, "/v1/vehicles/van-1/samples", `{"battery_start_v":11.2}`, nil)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, domain.EventSample, ev.Kind)
	require.True(t, ev.Alerts.Has(domain.AlertStarterBatteryLow))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.dispatcher.SubscriberCount("van-1") == 0 },
		time.Second, 5*time.Millisecond)
}
