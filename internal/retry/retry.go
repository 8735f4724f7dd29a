// Package retry implements the fixed-schedule retry policy of spec
// §4.5: a pure function from (outcome class, attempt number,
// server-supplied retry-after) to an Action, with no state of its own.
//
// The per-outcome delay sequences here are fixed data, not a curve a
// generic backoff library could generate: server-transient backs off
// 1s/2s/4s and gives up after three attempts, network errors back off
// 5s/10s/20s capped at 40s and also give up after three, while
// throttled/backpressure retry forever at whatever Retry-After said.
// github.com/cenkalti/backoff/v4 models a single exponential curve with
// jitter and a cap; it has no way to express "three outcome classes,
// three different schedules, two different give-up rules" without
// instantiating and threading three separate backoff.BackOff values and
// re-deriving the give-up/unlimited distinction by hand anyway. Keeping
// the schedule as a literal table grounded in
// pkg/features/recovery.go's own backoff-by-attempt arithmetic is both
// simpler and traceable directly to the numbers in spec §4.5.
package retry

import (
	"time"

	"github.com/nanolog-ingest/ingestsdk/internal/transport"
)

// Disposition is what the Flusher must do with the batch it just sent.
type Disposition int

const (
	// Commit: the batch was accepted, drop it from the queue.
	Commit Disposition = iota
	// DropBatch: the batch can never succeed, drop it without retrying.
	DropBatch
	// Retry: wait Delay, then attempt the same batch again.
	Retry
	// GiveUp: stop retrying this batch; requeue it at the front of the
	// queue for a later flush cycle rather than losing it outright.
	GiveUp
)

func (d Disposition) String() string {
	switch d {
	case Commit:
		return "commit"
	case DropBatch:
		return "drop_batch"
	case Retry:
		return "retry"
	case GiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Action is the decision returned by Decide.
type Action struct {
	Disposition Disposition
	Delay       time.Duration // meaningful only when Disposition == Retry
	Latch       string        // "api_key_invalid" | "project_not_found" | ""
}

const (
	serverTransientBase = 1 * time.Second
	networkErrorBase    = 5 * time.Second
	networkErrorCap     = 40 * time.Second

	// DefaultMaxRetries is spec §4.5's default attempt count for both
	// server-transient and network-error schedules before GiveUp.
	DefaultMaxRetries = 3
)

// Policy holds the configurable retry-count ceilings of spec §6
// (max_retries_server, max_retries_network). The per-attempt delay
// formula itself is fixed data (spec §4.5's literal 1s/2s/4s and
// 5s/10s/20s-capped-40s schedules), not something a count alone
// reparametrizes; Policy only varies how many attempts are taken before
// GiveUp.
type Policy struct {
	MaxRetriesServer  int
	MaxRetriesNetwork int
}

// NewPolicy builds a Policy, defaulting non-positive counts to
// DefaultMaxRetries.
func NewPolicy(maxRetriesServer, maxRetriesNetwork int) Policy {
	if maxRetriesServer <= 0 {
		maxRetriesServer = DefaultMaxRetries
	}
	if maxRetriesNetwork <= 0 {
		maxRetriesNetwork = DefaultMaxRetries
	}
	return Policy{MaxRetriesServer: maxRetriesServer, MaxRetriesNetwork: maxRetriesNetwork}
}

// Decide maps outcome and the 1-based attempt number for this batch (the
// Nth time Send has been called for it) to an Action. retryAfter is only
// consulted for Throttled and BackpressureFull outcomes.
func (p Policy) Decide(class transport.Class, attempt int, retryAfter time.Duration) Action {
	switch class {
	case transport.Accepted:
		return Action{Disposition: Commit}

	case transport.ClientValidation:
		return Action{Disposition: DropBatch}

	case transport.AuthInvalid:
		return Action{Disposition: DropBatch, Latch: "api_key_invalid"}

	case transport.NotFound:
		return Action{Disposition: DropBatch, Latch: "project_not_found"}

	case transport.Throttled, transport.BackpressureFull:
		delay := retryAfter
		if delay < time.Second {
			delay = time.Second
		}
		return Action{Disposition: Retry, Delay: delay}

	case transport.ServerTransient:
		return exponential(serverTransientBase, 0, p.MaxRetriesServer, attempt)

	case transport.NetworkError:
		return exponential(networkErrorBase, networkErrorCap, p.MaxRetriesNetwork, attempt)

	default:
		return Action{Disposition: GiveUp}
	}
}

// exponential doubles base on every attempt (1s,2s,4s,... or
// 5s,10s,20s,...), capping at cap if nonzero, and gives up once attempt
// exceeds maxRetries.
func exponential(base, cap time.Duration, maxRetries, attempt int) Action {
	if attempt > maxRetries {
		return Action{Disposition: GiveUp}
	}
	delay := base << uint(attempt-1)
	if cap > 0 && delay > cap {
		delay = cap
	}
	return Action{Disposition: Retry, Delay: delay}
}
