package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/pricefeed/internal/hash/sha256"
	"github.com/JakeFAU/pricefeed/internal/ingest"
)

const contentType = "text/html; charset=utf-8"

// Recorder saves the HTML of a live page to a blob store for later replay.
type Recorder struct {
	store  ingest.BlobStore
	clock  ingest.Clock
	hasher *sha256.Hasher
	prefix string
}

// NewRecorder constructs a Recorder writing under prefix.
func NewRecorder(store ingest.BlobStore, clock ingest.Clock, prefix string) *Recorder {
	return &Recorder{
		store:  store,
		clock:  clock,
		hasher: sha256.New(16),
		prefix: strings.Trim(prefix, "/"),
	}
}

// Capture stores the current HTML of page and returns its URI.
func (r *Recorder) Capture(ctx context.Context, target ingest.Target, page ingest.Page) (string, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	data := []byte(html)
	p := Path(r.prefix, target.Key, r.clock.Now(), r.hasher.Hash(data))
	uri, err := r.store.PutObject(ctx, p, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return uri, nil
}

// Path returns <prefix>/<key>/<utc timestamp>-<digest>.html.
func Path(prefix, key string, at time.Time, digest string) string {
	name := at.UTC().Format("20060102T150405Z") + "-" + digest + ".html"
	return path.Join(prefix, key, name)
}
