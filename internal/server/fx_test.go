package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/browser"
	"github.com/JakeFAU/pricefeed/internal/config"
	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/snapshot"
	"github.com/JakeFAU/pricefeed/internal/store"
	memorystore "github.com/JakeFAU/pricefeed/internal/store/memory"
	"github.com/JakeFAU/pricefeed/internal/worker"
)

const goldPage = `<html><body>
<div>
  <h2>Gold Live Price</h2>
  <h3 class="font-normal">USD</h3>
  <h3 class="font-mulish">2,345.60</h3>
</div>
</body></html>`

type fixtureDriver struct {
	html      string
	launchErr error
	launches  atomic.Int32
}

func (d *fixtureDriver) Name() string { return "fixture" }

func (d *fixtureDriver) Launch(context.Context) (browser.Process, error) {
	d.launches.Add(1)
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	return fixtureProcess{html: d.html}, nil
}

type fixtureProcess struct{ html string }

func (p fixtureProcess) Alive(context.Context) bool { return true }

func (p fixtureProcess) NewPage(context.Context, browser.PageOptions) (ingest.Page, error) {
	return snapshot.ParseString(p.html)
}

func (p fixtureProcess) Close() error { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Backend = "memory"
	cfg.Store.ConnectRetryDelay = time.Millisecond
	cfg.Server.Enabled = false
	cfg.Server.ShutdownTimeout = time.Second
	cfg.RateLimit.PerHostRPS = 0
	cfg.Worker.Interval = 10 * time.Millisecond
	cfg.Worker.BaseDelay = 10 * time.Millisecond
	cfg.Worker.MaxBackoff = 50 * time.Millisecond
	cfg.Targets = []config.TargetConfig{{Key: "gold", Settle: time.Millisecond}}
	return cfg
}

func TestBuildUnknownTarget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.OnlyTarget = "rhodium"
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.ErrorIs(t, err, ingest.ErrUnknownTarget)
}

func TestBuildTopologies(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{config.ModeParallel, config.ModeSequential} {
		t.Run(mode, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			cfg.Mode = mode
			app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithDriver(&fixtureDriver{html: goldPage}))
			require.NoError(t, err)
			defer app.Close()

			statuses := app.Statuses()
			require.Len(t, statuses, 6)
			require.Equal(t, "gold", statuses[0].Target)
			for _, s := range statuses {
				require.Equal(t, worker.StateBuilding, s.State)
			}
		})
	}
}

func TestBuildSnapshotBackends(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Snapshots.Enabled = true
	cfg.Snapshots.Backend = "local"
	cfg.Snapshots.LocalDir = t.TempDir()
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithDriver(&fixtureDriver{}))
	require.NoError(t, err)
	app.Close()

	cfg.Snapshots.Backend = "memory"
	cfg.Notify.Enabled = true
	cfg.Notify.Backend = "memory"
	app, err = Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithDriver(&fixtureDriver{}))
	require.NoError(t, err)
	app.Close()
}

func TestBuildServesWorkerStatus(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.Enabled = true
	cfg.OnlyTarget = "silver"
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithDriver(&fixtureDriver{}))
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.apiServer)

	rec := httptest.NewRecorder()
	app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workers []worker.Status `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Workers, 1)
	require.Equal(t, "silver", body.Workers[0].Target)
}

func TestRunPublishesAndStops(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.OnlyTarget = "gold"
	st := memorystore.New()
	driver := &fixtureDriver{html: goldPage}
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithDriver(driver), WithStore(st))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := st.Get(context.Background(), "price:gold")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	raw, err := st.Get(context.Background(), "price:gold")
	require.NoError(t, err)
	var record ingest.PublishedRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	require.InDelta(t, 2345.6, record.Price, 1e-9)
	require.Equal(t, "Kitco", record.Source)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.EqualValues(t, 1, driver.launches.Load())
}

func TestRunFailsWhenBrowserCannotStart(t *testing.T) {
	t.Parallel()

	boom := errors.New("chromium not found")
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithDriver(&fixtureDriver{launchErr: boom}))
	require.NoError(t, err)

	err = app.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestWaitForStoreRetries(t *testing.T) {
	t.Parallel()

	st := &store.MockStore{}
	st.On("Ping", mock.Anything).Return(errors.New("connection refused")).Twice()
	st.On("Ping", mock.Anything).Return(nil).Once()

	cfg := config.StoreConfig{Backend: "redis", ConnectRetryDelay: time.Millisecond}
	require.NoError(t, waitForStore(context.Background(), st, cfg, zap.NewNop()))
	st.AssertNumberOfCalls(t, "Ping", 3)
}

func TestWaitForStoreGivesUp(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	st := &store.MockStore{}
	st.On("Ping", mock.Anything).Return(refused)

	cfg := config.StoreConfig{Backend: "postgres", ConnectRetryDelay: time.Millisecond, ConnectAttempts: 3}
	err := waitForStore(context.Background(), st, cfg, zap.NewNop())
	require.ErrorIs(t, err, refused)
	require.ErrorContains(t, err, "after 3 attempts")
	st.AssertNumberOfCalls(t, "Ping", 3)
}

func TestWaitForStoreCanceled(t *testing.T) {
	t.Parallel()

	st := &store.MockStore{}
	st.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := config.StoreConfig{Backend: "redis", ConnectRetryDelay: time.Hour}
	err := waitForStore(ctx, st, cfg, zap.NewNop())
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenStoreRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := config.StoreConfig{
		Backend:           "redis",
		ConnectRetryDelay: time.Millisecond,
		ConnectAttempts:   1,
		Redis:             config.RedisConfig{URL: "redis://" + mr.Addr() + "/0"},
	}
	st, err := OpenStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Set(context.Background(), "price:gold", []byte(`{}`)))
	got, err := mr.Get("price:gold")
	require.NoError(t, err)
	require.Equal(t, `{}`, got)
}

func TestOpenStoreRedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.StoreConfig{
		Backend:           "redis",
		ConnectRetryDelay: time.Millisecond,
		ConnectAttempts:   2,
		Redis:             config.RedisConfig{URL: "redis://" + addr + "/0", DialTimeout: 100 * time.Millisecond},
	}
	_, err := OpenStore(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "after 2 attempts")
}
