// Package registry holds the static list of ingestion targets.
package registry

import (
	"fmt"
	"net/url"
	"time"

	"github.com/JakeFAU/pricefeed/internal/config"
	"github.com/JakeFAU/pricefeed/internal/extract"
	"github.com/JakeFAU/pricefeed/internal/ingest"
)

var (
	metalRange    = ingest.Range{Min: 0.001, Max: 100000}
	copperRange   = ingest.Range{Min: 0.5, Max: 50}
	currencyRange = ingest.Range{Min: 10000, Max: 25000}
)

const (
	kitcoSettle       = 3 * time.Second
	tradingViewSettle = 8 * time.Second
)

func kitcoCascade() []ingest.Strategy {
	return []ingest.Strategy{
		ingest.XPath("//h2[contains(text(),'Live')][contains(text(),'Price')]/following-sibling::h3[1]"),
		ingest.Selector(`h3.tracking-\[1px\]`),
		ingest.Selector("h3.font-bold.text-4xl"),
		ingest.Selector("h3.font-mulish"),
		ingest.Selector("h3.font-bold.leading-normal"),
		ingest.Script(extract.HeuristicKitcoLiveHeading),
	}
}

func tradingViewCascade() []ingest.Strategy {
	return []ingest.Strategy{
		ingest.Selector("span.last-zoF9r75I"),
		ingest.Selector("span[data-qa-id='symbol-last-value']"),
		ingest.Selector("span[class*='last-']"),
		ingest.Script(extract.HeuristicTradingViewLastValue),
	}
}

func kitco(key, name, path string) ingest.Target {
	return ingest.Target{
		Key:     key,
		Name:    name,
		URL:     "https://www.kitco.com/charts/" + path,
		Source:  ingest.SourceKitco,
		Kind:    ingest.KindMetal,
		Unit:    ingest.UnitTroyOunce,
		Cascade: kitcoCascade(),
		Range:   metalRange,
		Settle:  kitcoSettle,
		Refresh: ingest.RefreshNavigate,
	}
}

func tradingView(key, name, symbol string, kind ingest.Kind, unit ingest.Unit, r ingest.Range) ingest.Target {
	return ingest.Target{
		Key:     key,
		Name:    name,
		URL:     "https://www.tradingview.com/symbols/" + symbol + "/",
		Source:  ingest.SourceTradingView,
		Kind:    kind,
		Unit:    unit,
		Cascade: tradingViewCascade(),
		Range:   r,
		Settle:  tradingViewSettle,
		Refresh: ingest.RefreshInPlace,
	}
}

// Defaults returns the built-in targets in publication order.
func Defaults() []ingest.Target {
	return []ingest.Target{
		kitco("gold", "Gold", "gold"),
		kitco("silver", "Silver", "silver"),
		tradingView("platinum", "Platinum (XPTUSD)", "XPTUSD", ingest.KindMetal, ingest.UnitTroyOunce, metalRange),
		tradingView("palladium", "Palladium (XPDUSD)", "XPDUSD", ingest.KindMetal, ingest.UnitTroyOunce, metalRange),
		tradingView("copper", "Copper (XCUUSD)", "XCUUSD", ingest.KindMetal, ingest.UnitPound, copperRange),
		tradingView("usdidr", "USD/IDR", "USDIDR", ingest.KindCurrency, ingest.UnitCurrency, currencyRange),
	}
}

// Registry is a read-only, ordered set of targets.
type Registry struct {
	targets []ingest.Target
	index   map[string]int
}

// New validates targets and builds a Registry.
func New(targets []ingest.Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("registry requires at least one target")
	}
	r := &Registry{index: make(map[string]int, len(targets))}
	for _, t := range targets {
		if err := validate(t); err != nil {
			return nil, err
		}
		if _, dup := r.index[t.Key]; dup {
			return nil, fmt.Errorf("duplicate target key %q", t.Key)
		}
		r.index[t.Key] = len(r.targets)
		r.targets = append(r.targets, t)
	}
	return r, nil
}

// Load builds a Registry from the defaults merged with config overrides.
func Load(overrides []config.TargetConfig) (*Registry, error) {
	return New(Merge(Defaults(), overrides))
}

// All returns every target in order.
func (r *Registry) All() []ingest.Target {
	out := make([]ingest.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Get returns the target registered under key.
func (r *Registry) Get(key string) (ingest.Target, bool) {
	i, ok := r.index[key]
	if !ok {
		return ingest.Target{}, false
	}
	return r.targets[i], true
}

// Only returns the single target named by key, or every target when key is
// empty. An unknown key is a startup error.
func (r *Registry) Only(key string) ([]ingest.Target, error) {
	if key == "" {
		return r.All(), nil
	}
	t, ok := r.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ingest.ErrUnknownTarget, key)
	}
	return []ingest.Target{t}, nil
}

// Len returns the number of targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

func validate(t ingest.Target) error {
	if t.Key == "" {
		return fmt.Errorf("target key is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target %q: invalid url %q", t.Key, t.URL)
	}
	if t.Source == "" {
		return fmt.Errorf("target %q: source is required", t.Key)
	}
	switch t.Kind {
	case ingest.KindMetal, ingest.KindCurrency:
	default:
		return fmt.Errorf("target %q: unknown kind %q", t.Key, t.Kind)
	}
	switch t.Unit {
	case ingest.UnitTroyOunce, ingest.UnitPound, ingest.UnitCurrency:
	default:
		return fmt.Errorf("target %q: unknown unit %q", t.Key, t.Unit)
	}
	switch t.Refresh {
	case ingest.RefreshInPlace, ingest.RefreshNavigate:
	default:
		return fmt.Errorf("target %q: unknown refresh mode %q", t.Key, t.Refresh)
	}
	if t.Range.Min >= t.Range.Max {
		return fmt.Errorf("target %q: empty plausible range (%v, %v)", t.Key, t.Range.Min, t.Range.Max)
	}
	if len(t.Cascade) == 0 {
		return fmt.Errorf("target %q: extraction cascade is empty", t.Key)
	}
	for i, s := range t.Cascade {
		switch s.Type {
		case ingest.StrategySelector:
			if s.Expression() == "" {
				return fmt.Errorf("target %q: strategy %d has no query", t.Key, i)
			}
		case ingest.StrategyScript:
			if _, ok := extract.LookupHeuristic(s.Heuristic); !ok {
				return fmt.Errorf("target %q: strategy %d names unknown heuristic %q", t.Key, i, s.Heuristic)
			}
		default:
			return fmt.Errorf("target %q: strategy %d has unknown type %q", t.Key, i, s.Type)
		}
	}
	return nil
}
