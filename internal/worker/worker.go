// Package worker implements the self-healing ingestion loop for one target and
// the sequential round-robin runner built on it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/metrics"
)

var errNoText = errors.New("no strategy produced numeric text")

var tracer = otel.Tracer("github.com/JakeFAU/pricefeed/internal/worker")

// Config controls Worker behavior.
type Config struct {
	// Interval is the pause after a published cycle.
	Interval time.Duration
	// BaseDelay and MaxBackoff shape the linear backoff after failures.
	BaseDelay  time.Duration
	MaxBackoff time.Duration
	// RebuildThreshold is the number of failures on one page that forces a
	// new page.
	RebuildThreshold int
	// HealthTimeout forces a new page when nothing was published for this
	// long, even if no error was ever raised.
	HealthTimeout time.Duration
	// InPlaceSettle is the wait before reading a self-updating page.
	InPlaceSettle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxBackoff < c.BaseDelay {
		c.MaxBackoff = 60 * time.Second
	}
	if c.RebuildThreshold < 1 {
		c.RebuildThreshold = 5
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 300 * time.Second
	}
	return c
}

// Extractor runs an extraction cascade.
type Extractor interface {
	Extract(ctx context.Context, page ingest.Page, target ingest.Target) (string, int, error)
}

// Parser validates raw text.
type Parser interface {
	Parse(raw string, target ingest.Target) (float64, bool)
}

// Publisher writes a validated price.
type Publisher interface {
	Publish(ctx context.Context, target ingest.Target, price float64) (ingest.PublishedRecord, error)
}

// Recorder saves page HTML for offline replay.
type Recorder interface {
	Capture(ctx context.Context, target ingest.Target, page ingest.Page) (string, error)
}

// Deps groups the collaborators shared by every worker. Recorder may be nil.
type Deps struct {
	Browser   ingest.Browser
	Extractor Extractor
	Parser    Parser
	Publisher Publisher
	Recorder  Recorder
	Clock     ingest.Clock
	IDs       ingest.IDGenerator
	Logger    *zap.Logger
}

// Worker owns one target's page and failure state. Only Status is safe to
// call from other goroutines.
type Worker struct {
	target ingest.Target
	deps   Deps
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error

	page            ingest.Page
	pageGen         uint64
	pageCreatedAt   time.Time
	sessionID       string
	sessionFailures int
	failures        int
	lastSuccess     time.Time
	relaunchPending bool
	relaunchGen     uint64
	snapshotSaved   bool

	state       State
	cycles      uint64
	lastOutcome Outcome
	lastErr     string
	lastPrice   float64
	status      atomic.Pointer[Status]

	// lastExtracted is replaced, never mutated, so Status can share it.
	lastExtracted *ingest.ExtractedValue
}

// New constructs a Worker for target.
func New(target ingest.Target, deps Deps, cfg Config) *Worker {
	metrics.Init()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	w := &Worker{
		target: target,
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: deps.Logger.Named("worker").With(zap.String("target", target.Key)),
		sleep:  sleepCtx,
		state:  StateBuilding,
	}
	w.publishStatus()
	return w
}

// Target returns the worker's target.
func (w *Worker) Target() ingest.Target {
	return w.target
}

// Status returns the latest status snapshot.
func (w *Worker) Status() Status {
	return *w.status.Load()
}

// Run cycles until ctx is canceled, then releases the page.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		zap.String("url", w.target.URL),
		zap.String("refresh", string(w.target.Refresh)),
	)
	defer w.stop()
	for ctx.Err() == nil {
		delay := w.Cycle(ctx)
		if err := w.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// Cycle runs one iteration and returns the wait before the next one.
func (w *Worker) Cycle(ctx context.Context) time.Duration {
	ctx, span := tracer.Start(ctx, "worker.cycle",
		trace.WithAttributes(attribute.String("target", w.target.Key)))
	defer span.End()

	start := time.Now()
	outcome, price, err := w.attempt(ctx)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if err != nil && outcome != OutcomeCanceled {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	return w.settle(outcome, price, err, time.Since(start))
}

func (w *Worker) attempt(ctx context.Context) (Outcome, float64, error) {
	if w.relaunchPending {
		if err := w.relaunch(ctx); err != nil {
			if ctx.Err() != nil {
				return OutcomeCanceled, 0, err
			}
			return OutcomeProcessError, 0, err
		}
	}
	gen := w.deps.Browser.Generation()

	if reason := w.rebuildReason(gen); reason != "" {
		if err := w.rebuild(ctx, reason); err != nil {
			return w.classify(ctx, err, OutcomeNavigateError, gen), 0, err
		}
	} else if err := w.refresh(ctx); err != nil {
		return w.classify(ctx, err, OutcomeNavigateError, gen), 0, err
	}
	return w.extractAndPublish(context.WithoutCancel(ctx), gen)
}

// extractAndPublish runs to completion even during shutdown; cancellation
// only interrupts waits between cycles.
func (w *Worker) extractAndPublish(ctx context.Context, gen uint64) (Outcome, float64, error) {
	raw, idx, err := w.deps.Extractor.Extract(ctx, w.page, w.target)
	if err != nil {
		return w.classify(ctx, err, OutcomeSessionError, gen), 0, err
	}
	value := ingest.ExtractedValue{RawText: raw, Strategy: idx}
	if raw == "" {
		value.Strategy = -1
	} else {
		value.Value, value.Valid = w.deps.Parser.Parse(raw, w.target)
	}
	w.lastExtracted = &value

	switch {
	case raw == "":
		w.captureSnapshot(ctx)
		return OutcomeNoText, 0, errNoText
	case !value.Valid:
		w.logger.Debug("extracted text rejected",
			zap.String("raw", value.RawText),
			zap.Int("strategy", value.Strategy),
		)
		return OutcomeRejected, 0, fmt.Errorf("rejected %q from strategy %d", value.RawText, value.Strategy)
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.target, value.Value); err != nil {
		return OutcomeStoreError, value.Value, err
	}
	return OutcomePublished, value.Value, nil
}

func (w *Worker) classify(ctx context.Context, err error, fallback Outcome, gen uint64) Outcome {
	if ctx.Err() != nil {
		return OutcomeCanceled
	}
	switch ingest.Classify(err) {
	case ingest.FailureProcess:
		w.relaunchPending = true
		w.relaunchGen = gen
		return OutcomeProcessError
	case ingest.FailureSession:
		return OutcomeSessionError
	default:
		return fallback
	}
}

func (w *Worker) settle(outcome Outcome, price float64, err error, latency time.Duration) time.Duration {
	w.cycles++
	w.lastOutcome = outcome
	if outcome == OutcomeCanceled {
		w.publishStatus()
		return 0
	}
	metrics.ObserveCycle(w.target.Key, string(outcome), latency)

	if outcome == OutcomePublished {
		w.failures = 0
		w.sessionFailures = 0
		w.snapshotSaved = false
		w.lastSuccess = w.deps.Clock.Now()
		w.lastPrice = price
		w.lastErr = ""
		metrics.SetConsecutiveFailures(w.target.Key, 0)
		w.setState(StateActive)
		w.logger.Info("cycle",
			zap.String("outcome", string(outcome)),
			zap.Float64("price", price),
			zap.Duration("latency", latency),
			zap.String("state", string(w.state)),
		)
		return w.cfg.Interval
	}

	w.failures++
	// A store outage says nothing about the page, so it does not push the
	// page toward a rebuild.
	if outcome != OutcomeStoreError {
		w.sessionFailures++
	}
	switch outcome {
	case OutcomeSessionError, OutcomeProcessError, OutcomeNavigateError:
		w.dropPage()
	}
	if err != nil {
		w.lastErr = err.Error()
	}
	metrics.SetConsecutiveFailures(w.target.Key, w.failures)

	switch {
	case w.relaunchPending:
		w.setState(StateRelaunching)
	case w.page == nil:
		w.setState(StateRebuilding)
	default:
		w.setState(StateDegraded)
	}

	delay := Backoff(w.cfg.BaseDelay, w.cfg.MaxBackoff, w.failures)
	w.logger.Warn("cycle",
		zap.String("outcome", string(outcome)),
		zap.Duration("latency", latency),
		zap.Int("failures", w.failures),
		zap.Duration("backoff", delay),
		zap.String("state", string(w.state)),
		zap.Error(err),
	)
	return delay
}

func (w *Worker) rebuildReason(gen uint64) string {
	switch {
	case w.page == nil:
		return "no_page"
	case w.pageGen != gen:
		return "browser_relaunched"
	case w.sessionFailures >= w.cfg.RebuildThreshold:
		return "failure_threshold"
	case w.deps.Clock.Now().Sub(w.healthSince()) > w.cfg.HealthTimeout:
		return "health_timeout"
	default:
		return ""
	}
}

// healthSince is the later of the last success and the page build, so a new
// page always gets a full health window.
func (w *Worker) healthSince() time.Time {
	if w.lastSuccess.After(w.pageCreatedAt) {
		return w.lastSuccess
	}
	return w.pageCreatedAt
}

func (w *Worker) rebuild(ctx context.Context, reason string) error {
	if w.pageCreatedAt.IsZero() {
		w.setState(StateBuilding)
	} else {
		w.setState(StateRebuilding)
	}
	previous := w.page
	w.page = nil

	page, err := w.deps.Browser.NewPage(ctx, w.target, previous)
	if err != nil {
		return fmt.Errorf("build page: %w", err)
	}
	w.page = page
	w.pageGen = w.deps.Browser.Generation()
	w.pageCreatedAt = w.deps.Clock.Now()
	w.sessionFailures = 0
	w.sessionID = w.newSessionID()
	metrics.ObservePageRebuild(w.target.Key, reason)
	w.logger.Info("page ready",
		zap.String("reason", reason),
		zap.String("session_id", w.sessionID),
		zap.Uint64("generation", w.pageGen),
	)
	w.publishStatus()
	return nil
}

func (w *Worker) refresh(ctx context.Context) error {
	if w.target.Refresh != ingest.RefreshNavigate {
		return w.sleep(ctx, w.cfg.InPlaceSettle)
	}
	if err := w.deps.Browser.Navigate(ctx, w.page, w.target, ingest.WaitCommit); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return w.sleep(ctx, w.target.Settle)
}

// relaunch asks for a new browser process unless another worker already
// replaced the generation this worker saw fail.
func (w *Worker) relaunch(ctx context.Context) error {
	w.setState(StateRelaunching)
	w.dropPage()
	if err := w.deps.Browser.Relaunch(ctx, w.relaunchGen, "process_failure"); err != nil {
		return fmt.Errorf("relaunch browser: %w", err)
	}
	w.relaunchPending = false
	return nil
}

func (w *Worker) captureSnapshot(ctx context.Context) {
	if w.deps.Recorder == nil || w.snapshotSaved {
		return
	}
	w.snapshotSaved = true
	uri, err := w.deps.Recorder.Capture(ctx, w.target, w.page)
	if err != nil {
		w.logger.Warn("snapshot failed", zap.Error(err))
		return
	}
	w.logger.Info("page snapshot saved", zap.String("uri", uri))
}

func (w *Worker) dropPage() {
	if w.page == nil {
		return
	}
	w.deps.Browser.ClosePage(w.page)
	w.page = nil
}

func (w *Worker) newSessionID() string {
	if w.deps.IDs == nil {
		return ""
	}
	id, err := w.deps.IDs.NewID()
	if err != nil {
		w.logger.Debug("session id", zap.Error(err))
		return ""
	}
	return id
}

func (w *Worker) stop() {
	w.dropPage()
	w.setState(StateShutdown)
	w.logger.Info("worker stopped", zap.Uint64("cycles", w.cycles))
}

func (w *Worker) setState(s State) {
	w.state = s
	w.publishStatus()
}

func (w *Worker) publishStatus() {
	w.status.Store(&Status{
		Target:        w.target.Key,
		State:         w.state,
		Failures:      w.failures,
		Cycles:        w.cycles,
		LastOutcome:   w.lastOutcome,
		LastError:     w.lastErr,
		LastPrice:     w.lastPrice,
		LastSuccessAt: w.lastSuccess,
		SessionID:     w.sessionID,
		PageCreatedAt: w.pageCreatedAt,
		LastExtracted: w.lastExtracted,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
