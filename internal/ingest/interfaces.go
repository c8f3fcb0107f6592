package ingest

import (
	"context"
	"io"
	"time"
)

// Page is a rendered page bound to one isolated browser session.
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitUntil) error
	// Text waits for the first element matched by a selector strategy to be
	// visible and returns its text.
	Text(ctx context.Context, strategy Strategy) (string, error)
	// Evaluate runs a scripted heuristic and returns its string result, or ""
	// when the heuristic found nothing.
	Evaluate(ctx context.Context, heuristic Heuristic) (string, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Browser owns the shared browser process and hands out pages.
type Browser interface {
	EnsureProcess(ctx context.Context) error
	// Generation increments every time a new process is launched.
	Generation() uint64
	// Relaunch restarts the process unless it was already replaced after the
	// observed generation.
	Relaunch(ctx context.Context, observed uint64, reason string) error
	// NewPage closes previous (when non-nil), opens an isolated session,
	// navigates to the target and waits for it to settle.
	NewPage(ctx context.Context, target Target, previous Page) (Page, error)
	// Navigate re-navigates an open page to the target once the target's
	// host allows another request.
	Navigate(ctx context.Context, page Page, target Target, wait WaitUntil) error
	ClosePage(page Page)
	Connected(ctx context.Context) bool
	Shutdown(ctx context.Context) error
}

// Store is the shared key-value store holding the latest record per key.
type Store interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// Notifier fans out successful publications.
type Notifier interface {
	Publish(ctx context.Context, subject string, payload any) (string, error)
}

// BlobStore persists diagnostic artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
