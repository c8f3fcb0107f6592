// Package gorod drives Chromium through go-rod.
package gorod

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
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
	// Stealth injects the go-rod stealth script before every document.
	Stealth bool
	Locale  string
}

// Driver implements browser.Driver with go-rod.
type Driver struct {
	cfg    Config
	logger *zap.Logger
}

var _ browser.Driver = (*Driver)(nil)

// New returns a rod driver.
func New(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, logger: logger}
}

// Name implements browser.Driver.
func (d *Driver) Name() string { return "rod" }

func (d *Driver) launcher() *launcher.Launcher {
	l := launcher.New().
		Headless(d.cfg.Headless).
		NoSandbox(true)
	if d.cfg.ExecPath != "" {
		l = l.Bin(d.cfg.ExecPath)
	}
	l.Delete(flags.Flag("enable-automation"))
	for _, f := range browser.LaunchFlags(d.cfg.ExtraFlags) {
		if f.Value == "" {
			l.Set(flags.Flag(f.Name))
			continue
		}
		l.Set(flags.Flag(f.Name), f.Value)
	}
	return l
}

// Launch starts Chromium and connects to its control endpoint.
func (d *Driver) Launch(ctx context.Context) (browser.Process, error) {
	l := d.launcher()
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rod launch: %w", err)
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Context(ctx).Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("rod connect: %w", err)
	}
	d.logger.Debug("chromium started", zap.String("control_url", controlURL))
	return &process{browser: b, launcher: l, cfg: d.cfg}, nil
}

type process struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      Config
}

// Alive probes the browser endpoint.
func (p *process) Alive(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(p.browser.Context(probeCtx))
	return err == nil
}

// NewPage opens a page inside a fresh incognito context.
func (p *process) NewPage(ctx context.Context, opts browser.PageOptions) (ingest.Page, error) {
	inc, err := p.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, incognitoError(err)
	}
	inc = inc.Context(context.Background())
	pg, err := inc.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = inc.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	t := &page{page: pg, incognito: inc}
	if err := t.prepare(ctx, opts, p.cfg); err != nil {
		_ = t.Close()
		return nil, t.wrap(fmt.Errorf("prepare page: %w", err))
	}
	return t, nil
}

// Close kills Chromium and removes its profile directory.
func (p *process) Close() error {
	err := p.browser.Close()
	p.launcher.Kill()
	p.launcher.Cleanup()
	return err
}

type page struct {
	page      *rod.Page
	incognito *rod.Browser
	router    *rod.HijackRouter
	closed    atomic.Bool
}

var _ ingest.Page = (*page)(nil)

func (t *page) prepare(ctx context.Context, opts browser.PageOptions, cfg Config) error {
	p := t.page.Context(ctx)
	if cfg.Stealth {
		if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
			return fmt.Errorf("inject stealth: %w", err)
		}
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.ViewportWidth,
			Height:            opts.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
	}
	if opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      opts.UserAgent,
			AcceptLanguage: cfg.Locale,
		}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	if cfg.Locale != "" {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: acceptLanguage(cfg.Locale)}).Call(p); err != nil {
			return fmt.Errorf("set headers: %w", err)
		}
	}
	if opts.BlockResources {
		t.router = blockResources(t.page)
	}
	return nil
}

func acceptLanguage(locale string) proto.NetworkHeaders {
	return proto.NetworkHeaders{"Accept-Language": gson.New(locale)}
}

var blockedTypes = map[proto.NetworkResourceType]struct{}{
	proto.NetworkResourceTypeImage: {},
	proto.NetworkResourceTypeFont:  {},
	proto.NetworkResourceTypeMedia: {},
}

// blocked reports whether a request should be aborted.
func blocked(resourceType proto.NetworkResourceType, u *url.URL) bool {
	if _, ok := blockedTypes[resourceType]; ok {
		return true
	}
	if u == nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, glob := range browser.BlockedURLPatterns {
		if strings.HasSuffix(p, strings.TrimPrefix(glob, "*")) {
			return true
		}
	}
	return false
}

func blockResources(pg *rod.Page) *rod.HijackRouter {
	router := pg.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if blocked(h.Request.Type(), h.Request.URL()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// incognitoError leaves classification to the cause: a dead connection is a
// process failure, a deadline is only a timeout.
func incognitoError(err error) error {
	return fmt.Errorf("create incognito context: %w", err)
}

func (t *page) wrap(err error) error {
	if err == nil {
		return nil
	}
	if t.closed.Load() {
		return fmt.Errorf("%w: %w", ingest.ErrSessionClosed, err)
	}
	return err
}

// Navigate loads url and waits for the requested milestone.
func (t *page) Navigate(ctx context.Context, rawURL string, wait ingest.WaitUntil) error {
	p := t.page.Context(ctx)
	var waitDOM func()
	if wait == ingest.WaitDOMContentLoaded {
		waitDOM = p.WaitEvent(&proto.PageDomContentEventFired{})
	}
	if err := p.Navigate(rawURL); err != nil {
		return t.wrap(fmt.Errorf("navigate: %w", err))
	}
	if waitDOM != nil {
		waitDOM()
	}
	if err := ctx.Err(); err != nil {
		return t.wrap(fmt.Errorf("wait for DOMContentLoaded: %w", err))
	}
	return nil
}

// Text waits for the strategy's element to become visible and reads it.
func (t *page) Text(ctx context.Context, strategy ingest.Strategy) (string, error) {
	p := t.page.Context(ctx)
	var (
		el  *rod.Element
		err error
	)
	if strategy.IsXPath() {
		el, err = p.ElementX(strategy.Expression())
	} else {
		el, err = p.Element(strategy.Expression())
	}
	if err != nil {
		return "", t.wrap(err)
	}
	if err := el.WaitVisible(); err != nil {
		return "", t.wrap(err)
	}
	text, err := el.Text()
	if err != nil {
		return "", t.wrap(err)
	}
	return text, nil
}

// Evaluate runs the heuristic in the page.
func (t *page) Evaluate(ctx context.Context, heuristic ingest.Heuristic) (string, error) {
	res, err := t.page.Context(ctx).Eval(heuristic.Script)
	if err != nil {
		return "", t.wrap(fmt.Errorf("evaluate %s: %w", heuristic.Name, err))
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

// HTML returns the serialized document.
func (t *page) HTML(ctx context.Context) (string, error) {
	html, err := t.page.Context(ctx).HTML()
	if err != nil {
		return "", t.wrap(err)
	}
	return html, nil
}

// Close stops interception and disposes the incognito context.
func (t *page) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.router != nil {
		_ = t.router.Stop()
	}
	_ = t.page.Close()
	return t.incognito.Close()
}
