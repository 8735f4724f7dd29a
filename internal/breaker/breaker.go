// Package breaker implements the three-state circuit breaker that gates
// the transport: Closed, Open, HalfOpen (spec §4.6).
//
// Grounded in other_examples/szibis-metrics-governor's CircuitBreaker:
// atomic state plus a CompareAndSwap to let exactly one goroutine win the
// Open→HalfOpen transition and become the single half-open probe. This
// module only ever has one caller (the Flusher), so the CAS dance is
// stricter than strictly necessary here, but it is kept because it is the
// cheapest way to make "the Flusher permits exactly one batch attempt" in
// HalfOpen hold even if that invariant is ever relaxed to multiple
// Flusher workers.
package breaker

import (
	"sync/atomic"
	"time"
)

// State is one of the three circuit states.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is safe for concurrent use, though spec's model has a single
// Flusher as its only caller.
type Breaker struct {
	state            atomic.Int32
	consecutiveFails atomic.Int32
	openedAtUnixNano atomic.Int64
	halfOpenProbe    atomic.Int32

	threshold int
	timeout   time.Duration
	now       func() time.Time
}

// New creates a Breaker that opens after threshold consecutive
// non-Accepted outcomes and attempts recovery timeout after opening.
func New(threshold int, timeout time.Duration) *Breaker {
	b := &Breaker{threshold: threshold, timeout: timeout, now: time.Now}
	b.state.Store(int32(Closed))
	return b
}

// State returns the current state, performing the Open→HalfOpen
// transition as a side effect if the recovery timeout has elapsed.
func (b *Breaker) State() State {
	switch State(b.state.Load()) {
	case Open:
		if b.now().Sub(time.Unix(0, b.openedAtUnixNano.Load())) >= b.timeout {
			if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
				b.halfOpenProbe.Store(0)
			}
		}
	}
	return State(b.state.Load())
}

// Allow reports whether the Flusher may attempt a send right now, and if
// so, the maximum batch size it may use (HalfOpen forces a probe of 1,
// spec §4.7 step 2).
func (b *Breaker) Allow(maxBatchSize int) (allowed bool, batchSizeLimit int) {
	switch b.State() {
	case Closed:
		return true, maxBatchSize
	case HalfOpen:
		if b.halfOpenProbe.CompareAndSwap(0, 1) {
			return true, 1
		}
		return false, 0
	default: // Open
		return false, 0
	}
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (b *Breaker) ConsecutiveFailures() int {
	return int(b.consecutiveFails.Load())
}

// OpenedAt returns the time the breaker last transitioned to Open. The
// zero Time is returned if it has never opened.
func (b *Breaker) OpenedAt() time.Time {
	ns := b.openedAtUnixNano.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RecordSuccess reports an Accepted outcome: resets the failure counter,
// and if the breaker was HalfOpen, closes it.
func (b *Breaker) RecordSuccess() {
	b.consecutiveFails.Store(0)
	if State(b.state.Load()) == HalfOpen {
		b.halfOpenProbe.Store(0)
		b.state.Store(int32(Closed))
	}
}

// RecordFailure reports any non-Accepted outcome. In HalfOpen it reopens
// the breaker immediately (the probe failed). In Closed it increments the
// consecutive-failure count and opens once threshold is reached.
func (b *Breaker) RecordFailure() {
	state := State(b.state.Load())

	if state == HalfOpen {
		b.halfOpenProbe.Store(0)
		b.openedAtUnixNano.Store(b.now().UnixNano())
		b.state.Store(int32(Open))
		return
	}

	fails := b.consecutiveFails.Add(1)
	if state == Closed && int(fails) >= b.threshold {
		b.openedAtUnixNano.Store(b.now().UnixNano())
		b.state.Store(int32(Open))
	}
}
