// Package parse turns raw extracted text into validated prices.
package parse

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/ingest"
)

// symbols are removed before numeric conversion. Longer tokens come first so
// "US$" is stripped before "$".
var symbols = []string{"US$", "USD", "IDR", "Rp", "$", "€", "£", "¥"}

// Parser validates raw text against a target's rules. It never panics and never
// returns an error; every failure path yields ok == false.
type Parser struct {
	logger *zap.Logger
}

// New constructs a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse normalizes raw, converts it and checks it against target.Range.
func (p *Parser) Parse(raw string, target ingest.Target) (float64, bool) {
	cleaned := Normalize(raw, target.Kind)
	if cleaned == "" {
		p.logger.Warn("empty price text", zap.String("target", target.Key), zap.String("raw", raw))
		return 0, false
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		p.logger.Warn("unparsable price text",
			zap.String("target", target.Key),
			zap.String("raw", raw),
			zap.String("cleaned", cleaned),
		)
		return 0, false
	}
	if !target.Range.Contains(value) {
		p.logger.Warn("price outside plausible range",
			zap.String("target", target.Key),
			zap.Float64("value", value),
			zap.Float64("min", target.Range.Min),
			zap.Float64("max", target.Range.Max),
		)
		return 0, false
	}
	return value, true
}

// Normalize strips separators, symbols and whitespace. For metals whose text
// has no decimal point and is longer than three characters, a point is
// inserted two characters from the end ("293540" becomes "2935.40").
func Normalize(raw string, kind ingest.Kind) string {
	cleaned := strings.ReplaceAll(raw, ",", "")
	for _, s := range symbols {
		cleaned = strings.ReplaceAll(cleaned, s, "")
	}
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\u00a0', '\u202f', '\u2009':
			return -1
		case '\u2212':
			return '-'
		}
		return r
	}, cleaned)
	if kind == ingest.KindMetal && !strings.Contains(cleaned, ".") && len(cleaned) > 3 {
		cleaned = cleaned[:len(cleaned)-2] + "." + cleaned[len(cleaned)-2:]
	}
	return cleaned
}
