package registry

import (
	"github.com/JakeFAU/pricefeed/internal/config"
	"github.com/JakeFAU/pricefeed/internal/ingest"
)

// Merge applies overrides onto base. An override whose key matches a base
// target patches its non-zero fields; any other override is appended.
func Merge(base []ingest.Target, overrides []config.TargetConfig) []ingest.Target {
	out := make([]ingest.Target, len(base))
	copy(out, base)
	pos := make(map[string]int, len(out))
	for i, t := range out {
		pos[t.Key] = i
	}
	for _, o := range overrides {
		if i, ok := pos[o.Key]; ok {
			out[i] = apply(out[i], o)
			continue
		}
		pos[o.Key] = len(out)
		out = append(out, apply(ingest.Target{Refresh: ingest.RefreshNavigate}, o))
	}
	return out
}

func apply(t ingest.Target, o config.TargetConfig) ingest.Target {
	t.Key = o.Key
	if o.Name != "" {
		t.Name = o.Name
	}
	if o.URL != "" {
		t.URL = o.URL
	}
	if o.Source != "" {
		t.Source = ingest.Source(o.Source)
	}
	if o.Kind != "" {
		t.Kind = ingest.Kind(o.Kind)
	}
	if o.Unit != "" {
		t.Unit = ingest.Unit(o.Unit)
	}
	if o.Min != nil {
		t.Range.Min = *o.Min
	}
	if o.Max != nil {
		t.Range.Max = *o.Max
	}
	if o.Settle > 0 {
		t.Settle = o.Settle
	}
	if o.Refresh != "" {
		t.Refresh = ingest.RefreshMode(o.Refresh)
	}
	if len(o.Cascade) > 0 {
		t.Cascade = make([]ingest.Strategy, 0, len(o.Cascade))
		for _, s := range o.Cascade {
			t.Cascade = append(t.Cascade, ingest.Strategy{
				Type:      ingest.StrategyType(s.Type),
				Query:     s.Query,
				Heuristic: s.Heuristic,
				Timeout:   s.Timeout,
			})
		}
	}
	return t
}
