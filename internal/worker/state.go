package worker

import (
	"time"

	"github.com/JakeFAU/pricefeed/internal/ingest"
)

// State is the lifecycle phase of a worker.
type State string

const (
	StateBuilding    State = "BUILDING"
	StateActive      State = "ACTIVE"
	StateDegraded    State = "DEGRADED"
	StateRebuilding  State = "REBUILDING"
	StateRelaunching State = "RELAUNCHING"
	StateShutdown    State = "SHUTDOWN"
)

// Outcome labels the result of one cycle in logs and metrics.
type Outcome string

const (
	OutcomePublished     Outcome = "published"
	OutcomeNoText        Outcome = "no_text"
	OutcomeRejected      Outcome = "rejected"
	OutcomeSessionError  Outcome = "session_error"
	OutcomeProcessError  Outcome = "process_error"
	OutcomeStoreError    Outcome = "store_error"
	OutcomeNavigateError Outcome = "navigate_error"
	// OutcomeCanceled marks a cycle cut short by shutdown. It is never counted
	// as a failure.
	OutcomeCanceled Outcome = "canceled"
)

// Status is a point-in-time view of one worker, served by the ops API.
type Status struct {
	Target        string    `json:"target"`
	State         State     `json:"state"`
	Failures      int       `json:"failures"`
	Cycles        uint64    `json:"cycles"`
	LastOutcome   Outcome   `json:"last_outcome,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastPrice     float64   `json:"last_price,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at"`
	SessionID     string    `json:"session_id,omitempty"`
	PageCreatedAt time.Time `json:"page_created_at"`

	// LastExtracted is the value read by the most recent extraction.
	LastExtracted *ingest.ExtractedValue `json:"last_extracted,omitempty"`
}

// Backoff returns min(base*failures, max). Zero failures yields base.
func Backoff(base, limit time.Duration, failures int) time.Duration {
	if failures < 1 {
		return base
	}
	// Dividing first keeps a large streak from overflowing.
	if base > 0 && time.Duration(failures) > limit/base {
		return limit
	}
	d := base * time.Duration(failures)
	if d > limit {
		return limit
	}
	return d
}
