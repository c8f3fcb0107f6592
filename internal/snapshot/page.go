// Package snapshot implements ingest.Page over saved HTML so extraction can be
// replayed without a browser.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/pricefeed/internal/ingest"
)

// Page is a static document. Every matched element counts as visible.
type Page struct {
	root   *html.Node
	doc    *goquery.Document
	url    string
	closed atomic.Bool
}

var _ ingest.Page = (*Page)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader) (*Page, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{root: root, doc: goquery.NewDocumentFromNode(root)}, nil
}

// ParseString reads an HTML document held in memory.
func ParseString(s string) (*Page, error) {
	return Parse(strings.NewReader(s))
}

// Open reads an HTML document from disk.
func Open(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// URL returns the last URL passed to Navigate.
func (p *Page) URL() string {
	return p.url
}

// Navigate records url. The document never changes.
func (p *Page) Navigate(_ context.Context, url string, _ ingest.WaitUntil) error {
	if p.closed.Load() {
		return ingest.ErrSessionClosed
	}
	p.url = url
	return nil
}

// Text returns the text of the first element the strategy matches.
func (p *Page) Text(ctx context.Context, strategy ingest.Strategy) (string, error) {
	if p.closed.Load() {
		return "", ingest.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strategy.IsXPath() {
		node, err := htmlquery.Query(p.root, strategy.Expression())
		if err != nil {
			return "", fmt.Errorf("xpath %q: %w", strategy.Expression(), err)
		}
		if node == nil {
			return "", ingest.ErrNoMatch
		}
		return htmlquery.InnerText(node), nil
	}
	sel := p.doc.Find(strategy.Expression())
	if sel.Length() == 0 {
		return "", ingest.ErrNoMatch
	}
	return sel.First().Text(), nil
}

// Evaluate runs the Go port of the named heuristic.
func (p *Page) Evaluate(ctx context.Context, heuristic ingest.Heuristic) (string, error) {
	if p.closed.Load() {
		return "", ingest.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fn, ok := heuristics[heuristic.Name]
	if !ok {
		return "", fmt.Errorf("no offline heuristic %q", heuristic.Name)
	}
	return fn(p.doc), nil
}

// HTML renders the document.
func (p *Page) HTML(_ context.Context) (string, error) {
	if p.closed.Load() {
		return "", ingest.ErrSessionClosed
	}
	return htmlquery.OutputHTML(p.root, true), nil
}

// Close marks the page closed. Later calls fail with ingest.ErrSessionClosed.
func (p *Page) Close() error {
	p.closed.Store(true)
	return nil
}
