// Package ingest holds the domain types and collaborator interfaces shared by the
// price ingestion pipeline.
package ingest

import (
	"strings"
	"time"
)

// Kind selects parsing and range-validation rules for a target.
type Kind string

const (
	// KindMetal is a per-weight commodity price.
	KindMetal Kind = "metal"
	// KindCurrency is an exchange rate.
	KindCurrency Kind = "currency"
)

// Unit is informational and copied verbatim into published records.
type Unit string

const (
	UnitTroyOunce Unit = "troy_ounce"
	UnitPound     Unit = "pound"
	UnitCurrency  Unit = "currency"
)

// Source identifies the site family a target is scraped from.
type Source string

const (
	SourceKitco       Source = "kitco"
	SourceTradingView Source = "tradingview"
)

// Label returns the human label stored in published records.
func (s Source) Label() string {
	switch s {
	case SourceKitco:
		return "Kitco"
	case SourceTradingView:
		return "TradingView"
	default:
		return string(s)
	}
}

// RefreshMode controls how an existing page is refreshed between cycles.
type RefreshMode string

const (
	// RefreshInPlace waits for a streaming page to update itself.
	RefreshInPlace RefreshMode = "in_place"
	// RefreshNavigate re-navigates the page before every extraction.
	RefreshNavigate RefreshMode = "navigate"
)

// StrategyType tags the variant of an extraction strategy.
type StrategyType string

const (
	StrategySelector StrategyType = "selector"
	StrategyScript   StrategyType = "script"
)

const xpathPrefix = "xpath="

// Strategy is one step of an extraction cascade.
type Strategy struct {
	Type StrategyType
	// Query is a CSS selector, or an XPath expression when prefixed with "xpath=".
	Query string
	// Heuristic names a scripted DOM scan, used when Type is StrategyScript.
	Heuristic string
	// Timeout bounds the visibility wait. Zero means the pipeline default.
	Timeout time.Duration
}

// Selector returns a CSS selector strategy.
func Selector(query string) Strategy {
	return Strategy{Type: StrategySelector, Query: query}
}

// XPath returns an XPath selector strategy.
func XPath(expr string) Strategy {
	return Strategy{Type: StrategySelector, Query: xpathPrefix + expr}
}

// Script returns a scripted heuristic strategy.
func Script(name string) Strategy {
	return Strategy{Type: StrategyScript, Heuristic: name}
}

// IsXPath reports whether Query holds an XPath expression.
func (s Strategy) IsXPath() bool {
	return strings.HasPrefix(s.Query, xpathPrefix)
}

// Expression returns Query without its "xpath=" prefix.
func (s Strategy) Expression() string {
	return strings.TrimPrefix(s.Query, xpathPrefix)
}

// String renders the strategy for logs.
func (s Strategy) String() string {
	if s.Type == StrategyScript {
		return "script:" + s.Heuristic
	}
	return s.Query
}

// Heuristic is a named scripted DOM scan. Script is a JavaScript function
// expression taking no arguments and returning a string or null.
type Heuristic struct {
	Name   string
	Script string
}

// Range holds exclusive plausibility bounds.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether min < v < max. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v > r.Min && v < r.Max
}

// Target is one instrument page to ingest. Targets are immutable after load.
type Target struct {
	Key     string
	Name    string
	URL     string
	Source  Source
	Kind    Kind
	Unit    Unit
	Cascade []Strategy
	Range   Range
	// Settle is the render wait after a navigation.
	Settle  time.Duration
	Refresh RefreshMode
}

// Label returns Name when set, otherwise Key.
func (t Target) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Key
}

// ExtractedValue is the ephemeral result of one cycle. Strategy is -1 when no
// strategy produced numeric text.
type ExtractedValue struct {
	RawText  string  `json:"raw_text"`
	Value    float64 `json:"value"`
	Valid    bool    `json:"valid"`
	Strategy int     `json:"strategy"`
}

// PublishedRecord is the value stored under a target's key.
type PublishedRecord struct {
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Unit      Unit      `json:"unit"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WaitUntil selects the navigation milestone a Navigate call waits for.
type WaitUntil string

const (
	// WaitCommit returns once the navigation is committed.
	WaitCommit WaitUntil = "commit"
	// WaitDOMContentLoaded returns once the initial DOM is built.
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
)
