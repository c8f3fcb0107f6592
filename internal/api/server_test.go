package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/store/memory"
	"github.com/JakeFAU/pricefeed/internal/worker"
)

type fixedStatuses []worker.Status

func (f fixedStatuses) Statuses() []worker.Status { return f }

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type browserUp bool

func (p browserUp) Connected(context.Context) bool { return bool(p) }

var statuses = fixedStatuses{
	{
		Target: "gold", State: worker.StateActive, Cycles: 12, LastOutcome: worker.OutcomePublished,
		LastPrice: 2345.6, LastSuccessAt: time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC),
	},
	{Target: "silver", State: worker.StateDegraded, Failures: 3, LastOutcome: worker.OutcomeNoText},
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := NewServer(statuses, memory.New(), browserUp(true), zap.NewNop())
	rec := serve(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		store     Pinger
		connected bool
		wantCode  int
		wantCheck map[string]string
	}{
		{"ready", memory.New(), true, http.StatusOK, map[string]string{"store": "ok", "browser": "ok"}},
		{
			"store down",
			pingFunc(func(context.Context) error { return errors.New("redis ping: connection refused") }),
			true,
			http.StatusServiceUnavailable,
			map[string]string{"store": "redis ping: connection refused", "browser": "ok"},
		},
		{"browser down", memory.New(), false, http.StatusServiceUnavailable, map[string]string{"store": "ok", "browser": "disconnected"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := NewServer(statuses, tc.store, browserUp(tc.connected), zap.NewNop())
			rec := serve(t, s, "/readyz")
			require.Equal(t, tc.wantCode, rec.Code)

			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.wantCheck, body.Checks)
		})
	}
}

func TestListWorkers(t *testing.T) {
	t.Parallel()

	s := NewServer(statuses, nil, nil, zap.NewNop())
	rec := serve(t, s, "/v1/workers")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workers []worker.Status `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Workers, 2)
	require.Equal(t, worker.StateActive, body.Workers[0].State)
	require.Equal(t, 3, body.Workers[1].Failures)
}

func TestGetWorker(t *testing.T) {
	t.Parallel()

	s := NewServer(statuses, nil, nil, zap.NewNop())
	rec := serve(t, s, "/v1/workers/gold")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"last_outcome":"published"`)
	require.Contains(t, rec.Body.String(), `"last_success_at":"2026-03-14T02:30:00Z"`)

	rec = serve(t, s, "/v1/workers/unobtainium")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown target")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(statuses, nil, nil, zap.NewNop())
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "http_requests_total"), "prometheus output expected")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := NewServer(statuses, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(statuses, nil, nil, zap.NewNop())
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
