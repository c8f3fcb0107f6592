// Package supervisor runs the chosen worker topology over one shared browser.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/worker"
)

const restartDelay = time.Second

// Supervisor fans workers out over an errgroup and owns browser shutdown.
type Supervisor struct {
	browser ingest.Browser
	workers []*worker.Worker
	rr      *worker.RoundRobin
	logger  *zap.Logger
}

// NewParallel runs one goroutine per worker.
func NewParallel(browser ingest.Browser, workers []*worker.Worker, logger *zap.Logger) *Supervisor {
	return newSupervisor(browser, workers, nil, logger)
}

// NewSequential runs a single round-robin loop.
func NewSequential(browser ingest.Browser, rr *worker.RoundRobin, logger *zap.Logger) *Supervisor {
	return newSupervisor(browser, nil, rr, logger)
}

func newSupervisor(browser ingest.Browser, workers []*worker.Worker, rr *worker.RoundRobin, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{browser: browser, workers: workers, rr: rr, logger: logger.Named("supervisor")}
}

// Statuses returns every worker's status in registry order.
func (s *Supervisor) Statuses() []worker.Status {
	if s.rr != nil {
		return s.rr.Statuses()
	}
	out := make([]worker.Status, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Status())
	}
	return out
}

// Run launches the browser, then blocks until ctx is canceled and every
// worker has released its page. A browser that cannot start at all is the
// only error; it is returned before any worker begins.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.browser.EnsureProcess(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.rr != nil {
		g.Go(func() error {
			s.guard(gctx, "round-robin", s.rr.Run)
			return nil
		})
	}
	for _, w := range s.workers {
		g.Go(func() error {
			s.guard(gctx, w.Target().Key, w.Run)
			return nil
		})
	}
	s.logger.Info("workers started", zap.Int("workers", len(s.workers)), zap.Bool("sequential", s.rr != nil))

	err := g.Wait()
	if shutdownErr := s.browser.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
		s.logger.Warn("browser shutdown", zap.Error(shutdownErr))
	}
	return err
}

// guard restarts run after a panic so one bad cycle never takes the daemon down.
func (s *Supervisor) guard(ctx context.Context, name string, run func(context.Context)) {
	for {
		err := recovered(ctx, run)
		if err == nil {
			return
		}
		s.logger.Error("worker stopped unexpectedly; restarting", zap.String("worker", name), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func recovered(ctx context.Context, run func(context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	run(ctx)
	if ctx.Err() == nil {
		return errors.New("worker returned before shutdown")
	}
	return nil
}
