package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/metrics"
)

// RoundRobinConfig tunes the sequential topology.
type RoundRobinConfig struct {
	// RestartRounds relaunches the browser after this many completed rounds,
	// healthy or not.
	RestartRounds int
	// TargetGap separates consecutive targets within a round.
	TargetGap time.Duration
	// RoundInterval separates rounds that published at least one price.
	RoundInterval time.Duration
}

// RoundRobin visits every target in turn on one browser, closing each page
// before moving on so at most one page is open at a time.
type RoundRobin struct {
	workers []*Worker
	browser ingest.Browser
	cfg     RoundRobinConfig
	backoff Config
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error

	rounds       int
	failedRounds int
}

// NewRoundRobin builds one Worker per target sharing deps.
func NewRoundRobin(targets []ingest.Target, deps Deps, cfg Config, rr RoundRobinConfig) *RoundRobin {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if rr.RestartRounds < 1 {
		rr.RestartRounds = 10
	}
	if rr.RoundInterval <= 0 {
		rr.RoundInterval = 3 * time.Second
	}
	workers := make([]*Worker, 0, len(targets))
	for _, t := range targets {
		workers = append(workers, New(t, deps, cfg))
	}
	return &RoundRobin{
		workers: workers,
		browser: deps.Browser,
		cfg:     rr,
		backoff: cfg.withDefaults(),
		logger:  deps.Logger.Named("roundrobin"),
		sleep:   sleepCtx,
	}
}

// Statuses returns one status per target in registry order.
func (r *RoundRobin) Statuses() []Status {
	out := make([]Status, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Status())
	}
	return out
}

// Run performs rounds until ctx is canceled.
func (r *RoundRobin) Run(ctx context.Context) {
	r.logger.Info("round robin started",
		zap.Int("targets", len(r.workers)),
		zap.Int("restart_rounds", r.cfg.RestartRounds),
	)
	defer func() {
		for _, w := range r.workers {
			w.stop()
		}
		r.logger.Info("round robin stopped", zap.Int("rounds", r.rounds))
	}()

	for {
		succeeded, ok := r.Round(ctx)
		if !ok {
			return
		}
		delay := r.cfg.RoundInterval
		if succeeded == 0 {
			r.failedRounds++
			delay = Backoff(r.backoff.BaseDelay, r.backoff.MaxBackoff, r.failedRounds)
		} else {
			r.failedRounds = 0
		}
		if err := r.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// Round visits every target once and returns how many published. It reports
// false when ctx was canceled before the round completed.
func (r *RoundRobin) Round(ctx context.Context) (int, bool) {
	succeeded := 0
	for i, w := range r.workers {
		if i > 0 {
			if err := r.sleep(ctx, r.cfg.TargetGap); err != nil {
				return succeeded, false
			}
		}
		if ctx.Err() != nil {
			return succeeded, false
		}
		w.Cycle(ctx)
		if w.lastOutcome == OutcomePublished {
			succeeded++
		}
		w.dropPage()
		w.publishStatus()
		// The next target needs a working process, so do not wait for this
		// worker's next turn.
		if w.relaunchPending {
			if err := w.relaunch(ctx); err != nil {
				r.logger.Warn("relaunch after process failure", zap.Error(err))
			}
		}
	}

	r.rounds++
	metrics.ObserveRound(succeeded)
	r.logger.Info("round complete",
		zap.Int("round", r.rounds),
		zap.Int("published", succeeded),
		zap.Int("targets", len(r.workers)),
	)
	if r.rounds%r.cfg.RestartRounds == 0 {
		r.logger.Info("scheduled browser relaunch", zap.Int("round", r.rounds))
		if err := r.browser.Relaunch(ctx, r.browser.Generation(), "scheduled"); err != nil {
			r.logger.Error("scheduled relaunch failed", zap.Error(err))
		}
	}
	return succeeded, true
}
