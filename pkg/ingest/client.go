// Package ingest is the producer-facing facade of spec §4.8: it
// composes the Validator, Queue, RateLimiter, Breaker, Transport, Retry
// policy, and Flusher into one lifecycle-managed Client.
//
// Grounded in pkg/omni/logger.go's Omni struct (single background
// dispatcher goroutine started in NewWithConfig, mutex-guarded closed
// flag, idempotent Close) and pkg/omni/config.go's NewWithConfig flow
// (Validate, then wire subsystems, then start the worker).
package ingest

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nanolog-ingest/ingestsdk/internal/breaker"
	"github.com/nanolog-ingest/ingestsdk/internal/diag"
	"github.com/nanolog-ingest/ingestsdk/internal/flusher"
	"github.com/nanolog-ingest/ingestsdk/internal/metrics"
	"github.com/nanolog-ingest/ingestsdk/internal/queue"
	"github.com/nanolog-ingest/ingestsdk/internal/ratelimit"
	"github.com/nanolog-ingest/ingestsdk/internal/retry"
	"github.com/nanolog-ingest/ingestsdk/internal/transport"
	"github.com/nanolog-ingest/ingestsdk/internal/validator"
	"github.com/nanolog-ingest/ingestsdk/pkg/types"
)

// EnqueueResult is the synchronous outcome of Enqueue.
type EnqueueResult struct {
	Accepted bool
	Err      error // non-nil only when Accepted is false
}

// Status is the coarse health classification returned by Health.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// HealthReport is the value returned by Client.Health.
type HealthReport struct {
	Status Status
	Issues []string
}

// Client is the single entry point framework adapters use to ship log
// records. One Client owns exactly one background Flusher goroutine,
// matching spec §4.7's "exactly one instance per Client".
type Client struct {
	cfg Config

	q       *queue.Queue
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	metrics *metrics.Collector
	diag    diag.Handler
	tr      *transport.Transport
	flusher *flusher.Flusher

	mu     sync.Mutex
	latch  string
	closed bool
}

// New builds a Client from cfg, validating it first and failing fast
// with every violated constraint listed in one error (spec §6).
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := cfg.Diag
	if d == nil {
		d = diag.Stderr
	}
	rateLimitedDiag := diag.RateLimited(d, 1000)

	c := &Client{
		cfg:     cfg,
		q:       queue.New(cfg.MaxQueueSize, rateLimitedDiag),
		limiter: ratelimit.New(ratelimit.Config{LimitPerMinute: cfg.RateLimitPerMinute, LimitPerHour: cfg.RateLimitPerHour, Buffer: cfg.RateLimitBuffer}),
		breaker: breaker.New(cfg.BreakerThreshold, cfg.BreakerTimeout),
		metrics: metrics.NewCollector(),
		diag:    d,
	}

	c.tr = transport.New(transport.Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		PoolSize:       cfg.HTTPPoolSize,
		RequestTimeout: cfg.HTTPTimeout,
		GzipEnabled:    cfg.GzipEnabled,
	})

	c.flusher = flusher.New(
		flusher.Config{
			FlushInterval:                 cfg.FlushInterval,
			MaxFlushInterval:              cfg.MaxFlushInterval,
			MaxBatchSize:                  cfg.MaxBatchSize,
			BackpressureSlowdownThreshold: 3,
			RetryPolicy:                   retry.NewPolicy(cfg.MaxRetriesServer, cfg.MaxRetriesNetwork),
		},
		c.q, c.limiter, c.breaker, c.tr, c.metrics, d,
		c.getLatch, c.setLatch,
	)
	c.flusher.Start()

	return c, nil
}

// Enqueue validates record and, if valid, places it on the queue.
// Enqueue never blocks on I/O and never performs a network call: it is
// the one synchronous boundary producers cross, and the only failure
// they ever see directly (spec §7's propagation policy).
func (c *Client) Enqueue(record types.LogRecord) EnqueueResult {
	validated, failure := validator.Validate(record)
	if failure != nil {
		c.metrics.IncDroppedValidation()
		return EnqueueResult{Accepted: false, Err: errors.New(failure.Error())}
	}

	c.q.Enqueue(validated)
	c.metrics.IncEnqueued()

	if c.q.Size() >= c.cfg.FlushSize {
		c.flusher.Wake()
	}
	return EnqueueResult{Accepted: true}
}

// Metrics returns a point-in-time snapshot of the pipeline's counters.
func (c *Client) Metrics() metrics.Snapshot {
	snap := c.metrics.Snapshot(c.q.Size(), c.q.Capacity(), c.breaker.State().String(), c.limiter.MinuteCount(), c.limiter.HourCount())
	// Overflow evictions are counted by the queue itself.
	snap.DroppedOverflow = c.q.DropCount()
	return snap
}

// Health aggregates breaker state, latch state, queue pressure, and
// consecutive failures into the status spec §4.8 and §6 describe.
func (c *Client) Health() HealthReport {
	var issues []string

	if state := c.breaker.State(); state == breaker.Open {
		issues = append(issues, "circuit breaker open")
	}

	if latch := c.getLatch(); latch != "" {
		issues = append(issues, "latched: "+latch)
	}

	if c.q.Utilization() > 0.8 {
		issues = append(issues, "queue utilization above 80%")
	}

	if c.breaker.ConsecutiveFailures() > 2 {
		issues = append(issues, "more than 2 consecutive send failures")
	}

	if len(issues) == 0 {
		return HealthReport{Status: Healthy}
	}
	if c.getLatch() != "" || c.breaker.State() == breaker.Open {
		return HealthReport{Status: Unhealthy, Issues: issues}
	}
	return HealthReport{Status: Degraded, Issues: issues}
}

// RefreshCredentials clears any auth/not-found latch so the Flusher
// resumes sending. If newKey is non-empty it also replaces the bearer
// credential used by future transport attempts.
func (c *Client) RefreshCredentials(newKey string) error {
	if newKey != "" {
		c.mu.Lock()
		c.cfg.APIKey = newKey
		c.mu.Unlock()
		c.tr.SetAPIKey(newKey)
	}
	c.setLatch("")
	return nil
}

// Shutdown stops the Flusher, waiting up to timeout for the queue to
// drain through the normal send pipeline before abandoning whatever
// remains and counting it as dropped_on_shutdown. Shutdown is idempotent.
// If timeout is <= 0, cfg.ShutdownTimeout is used instead.
func (c *Client) Shutdown(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = c.cfg.ShutdownTimeout
	}
	c.flusher.Stop(time.Now().Add(timeout))
	c.tr.Close()
	return nil
}

func (c *Client) getLatch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latch
}

func (c *Client) setLatch(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latch = name
}
