// Package flusher runs the single background goroutine that drains the
// queue, rate-limits, sends, and retries batches (spec §4.7).
//
// The loop shape is grounded in two teacher-adjacent sources: the
// single-dispatcher-goroutine pattern of pkg/omni/logger.go's
// messageDispatcher (one goroutine, range/select over wakeup signals,
// WaitGroup-tracked shutdown), and the cancellable-sleep-with-jitter and
// circuit-breaker-gated retry shape of
// other_examples/szibis-metrics-governor's QueuedExporter.workerLoop and
// workerSleep, adapted from a multi-worker queue-popping loop to this
// pipeline's single-worker batch-draining loop.
package flusher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/nanolog-ingest/ingestsdk/internal/breaker"
	"github.com/nanolog-ingest/ingestsdk/internal/diag"
	"github.com/nanolog-ingest/ingestsdk/internal/metrics"
	"github.com/nanolog-ingest/ingestsdk/internal/queue"
	"github.com/nanolog-ingest/ingestsdk/internal/ratelimit"
	"github.com/nanolog-ingest/ingestsdk/internal/retry"
	"github.com/nanolog-ingest/ingestsdk/internal/transport"
	"github.com/nanolog-ingest/ingestsdk/pkg/types"
)

// Sender is the subset of *transport.Transport the Flusher depends on,
// so tests can substitute a fake.
type Sender interface {
	Send(ctx context.Context, batch types.Batch) transport.Outcome
}

// Config configures a Flusher.
type Config struct {
	FlushInterval    time.Duration
	MaxFlushInterval time.Duration
	MaxBatchSize     int

	BackpressureSlowdownThreshold int // consecutive BackpressureFull outcomes before doubling the interval

	RetryPolicy retry.Policy
}

// Flusher owns the single background goroutine that drains q and ships
// batches through sender, gated by limiter and breaker.
type Flusher struct {
	cfg     Config
	q       *queue.Queue
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	sender  Sender
	metrics *metrics.Collector
	diag    diag.Handler

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	mu              sync.Mutex
	currentInterval time.Duration
	backpressureRun int
	shutdownAt      time.Time

	// latch, once set, makes every future flush iteration a no-op that
	// leaves the queue untouched until RefreshCredentials clears it (spec
	// §4.8, §7). getLatch/setLatch are
	// owned by the Client, not the Flusher; the Flusher only consults and
	// trips them.
	getLatch func() string
	setLatch func(name string)

	// sleep is the cancellable-wait primitive used between retries. It is
	// swapped out in tests to collapse real delays down to milliseconds.
	sleep func(d time.Duration) bool
}

// New creates a Flusher. getLatch returns the current sticky-failure
// latch name ("" when clear) and setLatch trips it; both are owned by
// the Client.
func New(cfg Config, q *queue.Queue, limiter *ratelimit.Limiter, b *breaker.Breaker, sender Sender, m *metrics.Collector, d diag.Handler, getLatch func() string, setLatch func(string)) *Flusher {
	f := &Flusher{
		cfg:             cfg,
		q:               q,
		limiter:         limiter,
		breaker:         b,
		sender:          sender,
		metrics:         m,
		diag:            d,
		wakeCh:          make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		currentInterval: cfg.FlushInterval,
		getLatch:        getLatch,
		setLatch:        setLatch,
	}
	f.sleep = f.sleepCancellable
	return f
}

// Start launches the background loop. Start must be called at most once.
func (f *Flusher) Start() {
	go f.loop()
}

// Wake nudges the Flusher to run a flush iteration now instead of waiting
// for the next timer tick, used when the queue crosses flush_size.
func (f *Flusher) Wake() {
	select {
	case f.wakeCh <- struct{}{}:
	default:
	}
}

// Stop requests the loop to exit and blocks until it has exited or
// deadline passes, whichever comes first. Until deadline, the loop keeps
// draining the queue through the normal send pipeline
// (rate-limit/breaker/retry); whatever is still queued when deadline
// arrives is abandoned and counted as dropped_on_shutdown (spec §4.8).
// Stop is idempotent: calls after the first return immediately.
func (f *Flusher) Stop(deadline time.Time) {
	f.mu.Lock()
	select {
	case <-f.stopCh:
		f.mu.Unlock()
		return
	default:
	}
	f.shutdownAt = deadline
	close(f.stopCh)
	f.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-f.doneCh:
	case <-timer.C:
	}
}

func (f *Flusher) shutdownDeadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdownAt
}

func (f *Flusher) loop() {
	defer close(f.doneCh)

	// runCtx is cancelled as soon as Stop is called, so a rate-limiter wait
	// or an in-flight send started by a timer- or wake-driven flush is cut
	// short by the shutdown signal.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-f.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		interval := f.interval()
		timer := time.NewTimer(interval)
		select {
		case <-f.stopCh:
			timer.Stop()
			f.drainOnShutdown(f.shutdownDeadline())
			return
		case <-f.wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		for f.q.Size() > 0 {
			select {
			case <-f.stopCh:
				f.drainOnShutdown(f.shutdownDeadline())
				return
			default:
			}
			if !f.runOneIteration(runCtx) {
				break
			}
		}
	}
}

func (f *Flusher) interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentInterval
}

// runOneIteration implements spec §4.7's per-iteration algorithm against
// parent (a context cancelled by Stop during normal operation, a
// deadline-bounded context during shutdown draining). It returns false
// when nothing more can be usefully done this cycle (the breaker
// rejected, or the batch was requeued) so the caller can go back to
// waiting rather than busy-spinning.
func (f *Flusher) runOneIteration(parent context.Context) bool {
	// While latched, Enqueue keeps accepting records (spec §4.8) but the
	// Flusher must not send, or touch the queue at all, until
	// RefreshCredentials clears the latch.
	if f.currentLatch() != "" {
		return false
	}

	maxSize := f.cfg.MaxBatchSize
	allowed, sizeLimit := f.breaker.Allow(maxSize)
	if !allowed {
		return false
	}

	batch := f.q.DrainBatch(sizeLimit)
	if len(batch) == 0 {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := f.limiter.Acquire(ctx); err != nil {
		f.q.RequeueFront(batch)
		return false
	}

	attempt := 1
	for {
		f.metrics.IncSendAttempts()
		outcome := f.sender.Send(ctx, types.Batch{Records: batch})
		f.metrics.IncOutcome(outcome.Class.String())
		action := f.cfg.RetryPolicy.Decide(outcome.Class, attempt, outcome.RetryAfter)

		switch action.Disposition {
		case retry.Commit:
			f.breaker.RecordSuccess()
			f.metrics.IncBatchesSent()
			f.metrics.AddSent(uint64(len(batch)))
			f.onAccepted()
			return true

		case retry.DropBatch:
			f.breaker.RecordFailure()
			if action.Latch != "" {
				f.applyLatch(action.Latch)
			}
			f.diag("flusher", "dropped batch: "+outcome.Class.String())
			return false

		case retry.Retry:
			f.breaker.RecordFailure()
			f.onNonAccepted(outcome.Class.String())
			if !f.sleep(action.Delay) {
				f.q.RequeueFront(batch)
				return false
			}
			attempt++
			continue

		case retry.GiveUp:
			f.breaker.RecordFailure()
			f.q.RequeueFront(batch)
			f.diag("flusher", "gave up retrying batch, requeued: "+outcome.Class.String())
			return false
		}
		return false
	}
}

func (f *Flusher) currentLatch() string {
	if f.getLatch == nil {
		return ""
	}
	return f.getLatch()
}

func (f *Flusher) applyLatch(name string) {
	if f.setLatch != nil {
		f.setLatch(name)
	}
	f.diag("flusher", "latching on "+name)
}

// onAccepted resets the adaptive-slowdown state (spec §4.7's "reset on
// any Accepted outcome").
func (f *Flusher) onAccepted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backpressureRun = 0
	f.currentInterval = f.cfg.FlushInterval
}

// onNonAccepted doubles flush_interval, capped at max_flush_interval,
// after BackpressureSlowdownThreshold consecutive BackpressureFull
// outcomes (spec §4.7's adaptive slowdown).
func (f *Flusher) onNonAccepted(class string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if class != "backpressure_full" {
		f.backpressureRun = 0
		return
	}
	threshold := f.cfg.BackpressureSlowdownThreshold
	if threshold <= 0 {
		threshold = 3
	}
	f.backpressureRun++
	if f.backpressureRun >= threshold {
		f.backpressureRun = 0
		next := f.currentInterval * 2
		maxInterval := f.cfg.MaxFlushInterval
		if maxInterval <= 0 {
			maxInterval = 60 * time.Second
		}
		if next > maxInterval {
			next = maxInterval
		}
		f.currentInterval = next
	}
}

// sleepCancellable sleeps for d, jittered ±10% per the teacher's
// workerSleep, and reports false if stopCh fired first.
func (f *Flusher) sleepCancellable(d time.Duration) bool {
	jitter := time.Duration(float64(d) * 0.1 * (2*rand.Float64() - 1))
	d += jitter
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-f.stopCh:
		return false
	}
}

// drainOnShutdown keeps running the normal per-batch pipeline
// (rate-limit/breaker/retry, via runOneIteration) against the queue until
// it empties or deadline passes, then abandons whatever is left as
// dropped_on_shutdown (spec §4.8: "waits up to timeout for the Flusher to
// drain the queue with the normal pipeline; on timeout, abandons
// remaining records").
func (f *Flusher) drainOnShutdown(deadline time.Time) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	for f.q.Size() > 0 && time.Now().Before(deadline) {
		if !f.runOneIteration(ctx) {
			// Nothing went out this pass (breaker open, still latched,
			// requeued for retry); avoid hot-spinning against the
			// remaining deadline.
			select {
			case <-ctx.Done():
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	remaining := f.q.Size()
	if remaining > 0 {
		f.q.DrainBatch(remaining)
		f.metrics.AddDroppedShutdown(uint64(remaining))
	}
}
