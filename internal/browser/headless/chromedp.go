// Package headless drives Chromium through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/browser"
	"github.com/JakeFAU/pricefeed/internal/ingest"
)

const probeTimeout = 5 * time.Second

// Config controls how Chromium is started.
type Config struct {
	ExecPath   string
	Headless   bool
	ExtraFlags []string
	Locale     string
}

// Driver implements browser.Driver with chromedp.
type Driver struct {
	cfg    Config
	logger *zap.Logger
}

var _ browser.Driver = (*Driver)(nil)

// New returns a chromedp driver.
func New(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, logger: logger}
}

// Name implements browser.Driver.
func (d *Driver) Name() string { return "chromedp" }

func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !d.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}
	for _, f := range browser.LaunchFlags(d.cfg.ExtraFlags) {
		var value any = true
		if f.Value != "" {
			value = f.Value
		}
		opts = append(opts, chromedp.Flag(f.Name, value))
	}
	return opts
}

// Launch starts Chromium. The process outlives ctx; ctx only bounds startup.
func (d *Driver) Launch(ctx context.Context) (browser.Process, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stop := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp start: %w", err)
	}

	p := &process{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		locale:        d.cfg.Locale,
		logger:        d.logger,
	}
	if v, err := p.version(ctx); err == nil {
		d.logger.Debug("chromium started", zap.String("product", v.Product), zap.String("protocol", v.ProtocolVersion))
	}
	return p, nil
}

type process struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	locale        string
	logger        *zap.Logger
}

func (p *process) version(ctx context.Context) (*cdpbrowser.GetVersionReturns, error) {
	c := chromedp.FromContext(p.browserCtx)
	if c == nil || c.Browser == nil {
		return nil, ingest.ErrBrowserDisconnected
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var res cdpbrowser.GetVersionReturns
	if err := cdp.Execute(cdp.WithExecutor(probeCtx, c.Browser), cdpbrowser.CommandGetVersion, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Alive probes the browser endpoint.
func (p *process) Alive(ctx context.Context) bool {
	if p.browserCtx.Err() != nil {
		return false
	}
	_, err := p.version(ctx)
	return err == nil
}

// NewPage opens a tab inside a fresh browser context so cookies and storage
// are not shared between pages.
func (p *process) NewPage(ctx context.Context, opts browser.PageOptions) (ingest.Page, error) {
	if p.browserCtx.Err() != nil {
		return nil, ingest.ErrBrowserDisconnected
	}
	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx, chromedp.WithNewBrowserContext())
	t := &tab{ctx: tabCtx, cancel: tabCancel, browserCtx: p.browserCtx}

	if opts.BlockResources {
		chromedp.ListenTarget(tabCtx, t.failPaused)
	}

	stop := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx, setupActions(opts, p.locale)...)
	stop()
	if err != nil {
		tabCancel()
		return nil, t.wrap(fmt.Errorf("prepare page: %w", err))
	}
	return t, nil
}

// Close kills Chromium.
func (p *process) Close() error {
	p.browserCancel()
	p.allocCancel()
	return nil
}

func setupActions(opts browser.PageOptions, locale string) []chromedp.Action {
	actions := []chromedp.Action{}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(int64(opts.ViewportWidth), int64(opts.ViewportHeight), 1, false))
	}
	if opts.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(opts.UserAgent)
		if locale != "" {
			ua = ua.WithAcceptLanguage(locale)
		}
		actions = append(actions, ua)
	}
	if opts.BlockResources {
		actions = append(actions, fetch.Enable().WithPatterns(blockPatterns()))
	}
	return actions
}

func blockPatterns() []*fetch.RequestPattern {
	patterns := []*fetch.RequestPattern{
		{URLPattern: "*", ResourceType: network.ResourceTypeImage, RequestStage: fetch.RequestStageRequest},
		{URLPattern: "*", ResourceType: network.ResourceTypeFont, RequestStage: fetch.RequestStageRequest},
		{URLPattern: "*", ResourceType: network.ResourceTypeMedia, RequestStage: fetch.RequestStageRequest},
	}
	for _, glob := range browser.BlockedURLPatterns {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: glob, RequestStage: fetch.RequestStageRequest})
	}
	return patterns
}

type tab struct {
	ctx        context.Context
	cancel     context.CancelFunc
	browserCtx context.Context
}

var _ ingest.Page = (*tab)(nil)

// failPaused aborts every request the fetch patterns intercepted. Handlers
// must not block the event loop, so the command runs in its own goroutine.
func (t *tab) failPaused(ev any) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}
	go func() {
		c := chromedp.FromContext(t.ctx)
		if c == nil || c.Target == nil {
			return
		}
		_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).
			Do(cdp.WithExecutor(t.ctx, c.Target))
	}()
}

// bind derives a context from the tab that carries the caller's deadline and
// cancellation. Cancelling it aborts the action without closing the tab.
func (t *tab) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(t.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(t.ctx)
	}
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (t *tab) wrap(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case t.browserCtx.Err() != nil:
		return fmt.Errorf("%w: %w", ingest.ErrBrowserDisconnected, err)
	case t.ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ingest.ErrSessionClosed, err)
	default:
		return err
	}
}

// Navigate loads url and waits for the requested milestone.
func (t *tab) Navigate(ctx context.Context, rawURL string, wait ingest.WaitUntil) error {
	runCtx, done := t.bind(ctx)
	defer done()

	loaded := make(chan struct{}, 1)
	if wait == ingest.WaitDOMContentLoaded {
		chromedp.ListenTarget(runCtx, func(ev any) {
			if _, ok := ev.(*cdppage.EventDomContentEventFired); ok {
				select {
				case loaded <- struct{}{}:
				default:
				}
			}
		})
	}

	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res cdppage.NavigateReturns
		if err := cdp.Execute(ctx, cdppage.CommandNavigate, cdppage.Navigate(rawURL), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return fmt.Errorf("page load error %s", res.ErrorText)
		}
		return nil
	}))
	if err != nil {
		return t.wrap(fmt.Errorf("navigate: %w", err))
	}
	if wait != ingest.WaitDOMContentLoaded {
		return nil
	}
	select {
	case <-loaded:
		return nil
	case <-runCtx.Done():
		return t.wrap(fmt.Errorf("wait for DOMContentLoaded: %w", runCtx.Err()))
	}
}

func queryOption(s ingest.Strategy) chromedp.QueryOption {
	if s.IsXPath() {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// Text waits for the strategy's element to become visible and reads it.
func (t *tab) Text(ctx context.Context, strategy ingest.Strategy) (string, error) {
	runCtx, done := t.bind(ctx)
	defer done()

	sel, by := strategy.Expression(), queryOption(strategy)
	var text string
	if err := chromedp.Run(runCtx,
		chromedp.WaitVisible(sel, by),
		chromedp.Text(sel, &text, by, chromedp.NodeVisible),
	); err != nil {
		return "", t.wrap(err)
	}
	return text, nil
}

func invocation(h ingest.Heuristic) string {
	return "(" + h.Script + ")()"
}

// Evaluate runs the heuristic in the page.
func (t *tab) Evaluate(ctx context.Context, heuristic ingest.Heuristic) (string, error) {
	runCtx, done := t.bind(ctx)
	defer done()

	var res *string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(invocation(heuristic), &res)); err != nil {
		return "", t.wrap(fmt.Errorf("evaluate %s: %w", heuristic.Name, err))
	}
	if res == nil {
		return "", nil
	}
	return *res, nil
}

// HTML returns the serialized document.
func (t *tab) HTML(ctx context.Context) (string, error) {
	runCtx, done := t.bind(ctx)
	defer done()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", t.wrap(err)
	}
	return html, nil
}

// Close disposes the tab and its browser context.
func (t *tab) Close() error {
	if errors.Is(t.ctx.Err(), context.Canceled) {
		return nil
	}
	t.cancel()
	return nil
}

// forwardCancel cancels the child when parent is done, until the returned
// stop is called. Once stop returns, parent can no longer cancel the child.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	stop := context.AfterFunc(parent, cancel)
	return func() { stop() }
}
