// Package metrics collects the runtime counters spec §4.8/§6 exposes
// through Client.Metrics(): atomic counters plus a sync.Map keyed by
// outcome class, adapted from the teacher's internal/metrics.Collector
// (itself sync.Map-of-atomics keyed by level/source) to this pipeline's
// enqueue/send/drop/outcome vocabulary.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Collector accumulates counters for one Client's lifetime.
type Collector struct {
	enqueued uint64

	droppedOverflow   uint64
	droppedValidation uint64
	droppedShutdown   uint64

	sent         uint64
	batchesSent  uint64
	sendAttempts uint64

	outcomesByClass sync.Map // map[string]*atomic.Uint64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) IncEnqueued() { atomic.AddUint64(&c.enqueued, 1) }

func (c *Collector) IncDroppedOverflow()   { atomic.AddUint64(&c.droppedOverflow, 1) }
func (c *Collector) IncDroppedValidation() { atomic.AddUint64(&c.droppedValidation, 1) }
func (c *Collector) AddDroppedShutdown(n uint64) {
	atomic.AddUint64(&c.droppedShutdown, n)
}

func (c *Collector) IncBatchesSent()  { atomic.AddUint64(&c.batchesSent, 1) }
func (c *Collector) IncSendAttempts() { atomic.AddUint64(&c.sendAttempts, 1) }

// AddSent records n records as successfully committed to the remote
// endpoint, distinct from BatchesSent (a batch count): spec §8's
// conservation invariant is stated in terms of record counts, and batch
// sizes vary (the HalfOpen probe batch is always exactly 1).
func (c *Collector) AddSent(n uint64) { atomic.AddUint64(&c.sent, n) }

// IncOutcome records one occurrence of the named outcome class
// ("accepted", "server_transient", "network_error", ...).
func (c *Collector) IncOutcome(class string) {
	counter, _ := c.outcomesByClass.LoadOrStore(class, new(atomic.Uint64))
	counter.(*atomic.Uint64).Add(1)
}

// Snapshot is the point-in-time view returned by Client.Metrics().
type Snapshot struct {
	Enqueued uint64 `json:"enqueued"`

	DroppedOverflow   uint64 `json:"dropped_overflow"`
	DroppedValidation uint64 `json:"dropped_validation"`
	DroppedShutdown   uint64 `json:"dropped_shutdown"`

	Sent         uint64 `json:"sent"`
	BatchesSent  uint64 `json:"batches_sent"`
	SendAttempts uint64 `json:"send_attempts"`

	OutcomesByClass map[string]uint64 `json:"outcomes_by_class"`

	QueueDepth       int     `json:"queue_depth"`
	QueueCapacity    int     `json:"queue_capacity"`
	QueueUtilization float64 `json:"queue_utilization"`

	BreakerState string `json:"breaker_state"`

	MinuteWindowCount int `json:"minute_window_count"`
	HourWindowCount   int `json:"hour_window_count"`
}

// Snapshot reports the current counters plus the caller-supplied queue,
// breaker, and rate-limiter state (those live in other packages and are
// threaded in by the Client rather than duplicated here).
func (c *Collector) Snapshot(queueDepth, queueCapacity int, breakerState string, minuteCount, hourCount int) Snapshot {
	s := Snapshot{
		Enqueued:          atomic.LoadUint64(&c.enqueued),
		DroppedOverflow:   atomic.LoadUint64(&c.droppedOverflow),
		DroppedValidation: atomic.LoadUint64(&c.droppedValidation),
		DroppedShutdown:   atomic.LoadUint64(&c.droppedShutdown),
		Sent:              atomic.LoadUint64(&c.sent),
		BatchesSent:       atomic.LoadUint64(&c.batchesSent),
		SendAttempts:      atomic.LoadUint64(&c.sendAttempts),
		OutcomesByClass:   make(map[string]uint64),
		QueueDepth:        queueDepth,
		QueueCapacity:     queueCapacity,
		BreakerState:      breakerState,
		MinuteWindowCount: minuteCount,
		HourWindowCount:   hourCount,
	}
	if queueCapacity > 0 {
		s.QueueUtilization = float64(queueDepth) / float64(queueCapacity)
	}
	c.outcomesByClass.Range(func(key, value interface{}) bool {
		s.OutcomesByClass[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return s
}
