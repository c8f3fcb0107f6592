// Package extract runs a target's extraction cascade against a rendered page.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/ingest"
)

// Config controls per-strategy timeouts.
type Config struct {
	// PrimaryTimeout applies to the first strategy, which may still be racing
	// the page render.
	PrimaryTimeout time.Duration
	// FallbackTimeout applies to every later strategy.
	FallbackTimeout time.Duration
}

// Pipeline tries each strategy of a cascade in order.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = 15 * time.Second
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// Extract returns the first non-empty text containing a digit and the index of
// the strategy that produced it. An exhausted cascade yields ("", -1, nil).
// An error is returned only when the page or browser reports itself broken.
func (p *Pipeline) Extract(ctx context.Context, page ingest.Page, target ingest.Target) (string, int, error) {
	for i, strategy := range target.Cascade {
		text, err := p.try(ctx, page, strategy, p.timeout(i, strategy))
		if err != nil {
			if ingest.IsBroken(err) {
				return "", -1, fmt.Errorf("strategy %d (%s): %w", i, strategy, err)
			}
			p.logger.Debug("strategy missed",
				zap.String("target", target.Key),
				zap.Int("strategy", i),
				zap.Stringer("query", strategy),
				zap.Error(err),
			)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" || !HasDigit(text) {
			p.logger.Debug("strategy returned non-numeric text",
				zap.String("target", target.Key),
				zap.Int("strategy", i),
				zap.String("text", text),
			)
			continue
		}
		if i > 0 {
			p.logger.Info("price found via fallback",
				zap.String("target", target.Key),
				zap.Int("strategy", i),
				zap.Stringer("query", strategy),
			)
		}
		return text, i, nil
	}
	return "", -1, nil
}

func (p *Pipeline) try(
	ctx context.Context,
	page ingest.Page,
	strategy ingest.Strategy,
	timeout time.Duration,
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch strategy.Type {
	case ingest.StrategyScript:
		h, ok := LookupHeuristic(strategy.Heuristic)
		if !ok {
			return "", fmt.Errorf("unknown heuristic %q", strategy.Heuristic)
		}
		text, err := page.Evaluate(ctx, h)
		if err != nil {
			return "", fmt.Errorf("evaluate %s: %w", h.Name, err)
		}
		return text, nil
	case ingest.StrategySelector:
		text, err := page.Text(ctx, strategy)
		if err != nil {
			return "", fmt.Errorf("text %s: %w", strategy.Query, err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("unknown strategy type %q", strategy.Type)
	}
}

func (p *Pipeline) timeout(i int, strategy ingest.Strategy) time.Duration {
	if strategy.Timeout > 0 {
		return strategy.Timeout
	}
	if i == 0 {
		return p.cfg.PrimaryTimeout
	}
	return p.cfg.FallbackTimeout
}

// HasDigit reports whether s contains at least one decimal digit.
func HasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
