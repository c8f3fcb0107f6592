// Package browser owns the shared browser process and the isolated pages handed
// to workers. Drivers for concrete automation libraries live in subpackages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/metrics"
)

// PageOptions describe how a fresh isolated session is prepared.
type PageOptions struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// BlockResources aborts image, font and media requests.
	BlockResources bool
}

// Process is one running browser.
type Process interface {
	// Alive reports whether the process still answers protocol calls.
	Alive(ctx context.Context) bool
	// NewPage opens an isolated session with a single blank page.
	NewPage(ctx context.Context, opts PageOptions) (ingest.Page, error)
	// Close tears down every session, the browser and its driver subprocess.
	Close() error
}

// Driver launches browser processes.
type Driver interface {
	Name() string
	Launch(ctx context.Context) (Process, error)
}

// Waiter throttles navigations per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the Manager.
type Config struct {
	Page              PageOptions
	NavigationTimeout time.Duration
}

// Manager implements ingest.Browser on top of a Driver. Failures are returned
// to the caller and never retried here.
type Manager struct {
	driver  Driver
	limiter Waiter
	cfg     Config
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error

	gen atomic.Uint64

	mu    sync.Mutex
	proc  Process
	pages map[ingest.Page]struct{}
}

var _ ingest.Browser = (*Manager)(nil)

// NewManager constructs a Manager. limiter may be nil.
func NewManager(driver Driver, limiter Waiter, cfg Config, logger *zap.Logger) *Manager {
	metrics.Init()
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		driver:  driver,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
		pages:   make(map[ingest.Page]struct{}),
	}
}

// Generation returns the number of processes launched so far.
func (m *Manager) Generation() uint64 {
	return m.gen.Load()
}

// EnsureProcess launches a process when none is running or the current one no
// longer responds. It is a no-op on a healthy process.
func (m *Manager) EnsureProcess(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx)
}

func (m *Manager) ensureLocked(ctx context.Context) error {
	if m.proc != nil && m.proc.Alive(ctx) {
		return nil
	}
	reason := "startup"
	if m.proc != nil {
		reason = "disconnected"
		m.logger.Warn("browser process not responding, relaunching", zap.Uint64("generation", m.gen.Load()))
		m.closeProcessLocked()
	}
	return m.launchLocked(ctx, reason)
}

// Relaunch replaces the process. When another caller already relaunched after
// the observed generation the call is a no-op, so concurrent workers that saw
// the same broken process cause a single restart.
func (m *Manager) Relaunch(ctx context.Context, observed uint64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current := m.gen.Load(); current != observed && m.proc != nil {
		m.logger.Debug("relaunch already performed",
			zap.Uint64("observed", observed),
			zap.Uint64("generation", current),
		)
		return nil
	}
	m.logger.Info("relaunching browser", zap.String("reason", reason), zap.Uint64("generation", observed))
	m.closeProcessLocked()
	return m.launchLocked(ctx, reason)
}

func (m *Manager) launchLocked(ctx context.Context, reason string) error {
	start := time.Now()
	proc, err := m.driver.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch %s browser: %w", m.driver.Name(), err)
	}
	m.proc = proc
	gen := m.gen.Add(1)
	metrics.ObserveBrowserLaunch(reason)
	m.logger.Info("browser launched",
		zap.String("driver", m.driver.Name()),
		zap.String("reason", reason),
		zap.Uint64("generation", gen),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (m *Manager) closeProcessLocked() {
	for p := range m.pages {
		_ = p.Close()
	}
	clear(m.pages)
	if m.proc == nil {
		return
	}
	if err := m.proc.Close(); err != nil {
		m.logger.Debug("closing stale browser process", zap.Error(err))
	}
	m.proc = nil
}

// NewPage closes previous, opens a fresh isolated page, navigates to the
// target waiting only for DOM construction, and waits the target's settle
// interval before returning it.
func (m *Manager) NewPage(ctx context.Context, target ingest.Target, previous ingest.Page) (ingest.Page, error) {
	if previous != nil {
		m.ClosePage(previous)
	}

	m.mu.Lock()
	if err := m.ensureLocked(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	proc := m.proc
	m.mu.Unlock()

	page, err := proc.NewPage(ctx, m.cfg.Page)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	m.track(page)

	if err := m.Navigate(ctx, page, target, ingest.WaitDOMContentLoaded); err != nil {
		m.ClosePage(page)
		return nil, err
	}

	if err := m.sleep(ctx, target.Settle); err != nil {
		m.ClosePage(page)
		return nil, err
	}
	return page, nil
}

// Navigate waits on the per-host limiter and then navigates page to the
// target URL within the navigation timeout.
func (m *Manager) Navigate(ctx context.Context, page ingest.Page, target ingest.Target, wait ingest.WaitUntil) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, target.URL); err != nil {
			return err
		}
	}
	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, target.URL, wait); err != nil {
		return fmt.Errorf("navigate %s: %w", target.URL, err)
	}
	return nil
}

// ClosePage closes page and its session. Errors are swallowed because the
// session may already be broken.
func (m *Manager) ClosePage(page ingest.Page) {
	if page == nil {
		return
	}
	m.mu.Lock()
	delete(m.pages, page)
	m.mu.Unlock()
	if err := page.Close(); err != nil {
		m.logger.Debug("close page", zap.Error(err))
	}
}

// Connected reports whether a live process is running.
func (m *Manager) Connected(ctx context.Context) bool {
	m.mu.Lock()
	proc := m.proc
	m.mu.Unlock()
	return proc != nil && proc.Alive(ctx)
}

// OpenPages returns the number of pages not yet closed.
func (m *Manager) OpenPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Shutdown closes every page and the process.
func (m *Manager) Shutdown(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for p := range m.pages {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	clear(m.pages)
	if m.proc != nil {
		if err := m.proc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		m.proc = nil
	}
	m.logger.Info("browser shut down")
	return errors.Join(errs...)
}

func (m *Manager) track(page ingest.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[page] = struct{}{}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("settle wait: %w", ctx.Err())
	}
}
