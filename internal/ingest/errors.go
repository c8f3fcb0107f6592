package ingest

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrSessionClosed reports that a page or its isolated session is gone.
	ErrSessionClosed = errors.New("session closed")
	// ErrBrowserDisconnected reports that the browser process is gone.
	ErrBrowserDisconnected = errors.New("browser disconnected")
	// ErrNoMatch reports that a strategy matched nothing.
	ErrNoMatch = errors.New("no matching element")
	// ErrUnknownTarget reports a lookup of a key missing from the registry.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrNotFound reports a store key that has never been written.
	ErrNotFound = errors.New("key not found")
)

// Failure classifies an error raised by a page or browser operation.
type Failure int

const (
	FailureNone Failure = iota
	// FailureTimeout is a wait that expired against a healthy session.
	FailureTimeout
	// FailureSession means the page handle is unusable and must be rebuilt.
	FailureSession
	// FailureProcess means the browser process must be relaunched.
	FailureProcess
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureSession:
		return "session"
	case FailureProcess:
		return "process"
	default:
		return "unknown"
	}
}

var processMarkers = []string{
	"browser has disconnected",
	"browser closed",
	"websocket",
	"closed network connection",
	"connection refused",
	"connection reset",
	"broken pipe",
	"chrome failed to start",
	"process exited",
}

var sessionMarkers = []string{
	"target closed",
	"session closed",
	"page closed",
	"context closed",
	"has been closed",
	"invalid context",
	"no target with given id",
	"target crashed",
	"execution context was destroyed",
	"cannot find context with specified id",
}

// Classify maps err onto the failure taxonomy. Sentinels win over message
// markers, and process markers win over session markers.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, ErrBrowserDisconnected) {
		return FailureProcess
	}
	if errors.Is(err, ErrSessionClosed) {
		return FailureSession
	}
	msg := strings.ToLower(err.Error())
	for _, m := range processMarkers {
		if strings.Contains(msg, m) {
			return FailureProcess
		}
	}
	for _, m := range sessionMarkers {
		if strings.Contains(msg, m) {
			return FailureSession
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout") {
		return FailureTimeout
	}
	return FailureNone
}

// IsBroken reports whether err means the session or process is unusable.
func IsBroken(err error) bool {
	f := Classify(err)
	return f == FailureSession || f == FailureProcess
}
