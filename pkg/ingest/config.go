package ingest

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config is the full configuration surface of spec §6, aggregated into
// one struct the way the teacher's omni.Config aggregates every
// subsystem's settings into one value passed to NewWithConfig.
type Config struct {
	APIKey  string
	BaseURL string

	FlushInterval time.Duration
	FlushSize     int
	MaxBatchSize  int
	MaxQueueSize  int

	HTTPTimeout  time.Duration
	HTTPPoolSize int
	GzipEnabled  bool

	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitBuffer    float64

	MaxRetriesServer  int
	MaxRetriesNetwork int

	BreakerThreshold int
	BreakerTimeout   time.Duration

	MaxFlushInterval time.Duration

	// ShutdownTimeout bounds Shutdown's wait for an in-flight flush to
	// finish before abandoning the loop.
	ShutdownTimeout time.Duration

	// Diag receives internal diagnostics (queue overflow, dropped
	// batches, latch transitions). Defaults to diag.Stderr if left nil.
	Diag func(source, message string)
}

// apiKeyPrefix is the expected prefix of a well-formed project key.
const apiKeyPrefix = "nlk_"

// DefaultConfig returns a Config with the defaults named throughout spec
// §6, leaving APIKey and BaseURL for the caller to fill in.
func DefaultConfig() *Config {
	return &Config{
		FlushInterval:      5 * time.Second,
		FlushSize:          100,
		MaxBatchSize:       1000,
		MaxQueueSize:       10000,
		HTTPTimeout:        5 * time.Second,
		HTTPPoolSize:       10,
		GzipEnabled:        false,
		RateLimitPerMinute: 1000,
		RateLimitPerHour:   50000,
		RateLimitBuffer:    0.9,
		MaxRetriesServer:   3,
		MaxRetriesNetwork:  3,
		BreakerThreshold:   5,
		BreakerTimeout:     60 * time.Second,
		MaxFlushInterval:   60 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Validate checks every constraint in spec §6's configuration table and
// fails fast, listing every violation rather than stopping at the first
// (mirrored from how the teacher's own Validate applies defaults, but
// this facade's contract is "fail loud" rather than "silently fix up").
func (c *Config) Validate() error {
	var violations []string

	if strings.TrimSpace(c.APIKey) == "" {
		violations = append(violations, "api_key must be non-empty")
	} else if !strings.HasPrefix(c.APIKey, apiKeyPrefix) {
		violations = append(violations, "api_key must have the \""+apiKeyPrefix+"\" project-key prefix")
	}

	if strings.TrimSpace(c.BaseURL) == "" {
		violations = append(violations, "base_url must be non-empty")
	}

	if c.FlushInterval <= 0 {
		violations = append(violations, "flush_interval must be > 0")
	}
	if c.FlushSize <= 0 {
		violations = append(violations, "flush_size must be > 0")
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > 1000 {
		violations = append(violations, "max_batch_size must be in (0, 1000]")
	}
	if c.MaxQueueSize <= 0 {
		violations = append(violations, "max_queue_size must be > 0")
	}
	if c.HTTPTimeout <= 0 {
		violations = append(violations, "http_timeout must be > 0")
	}
	if c.HTTPPoolSize <= 0 {
		violations = append(violations, "http_pool_size must be > 0")
	}
	if c.RateLimitPerMinute <= 0 {
		violations = append(violations, "rate_limit_per_minute must be > 0")
	}
	if c.RateLimitPerHour <= 0 {
		violations = append(violations, "rate_limit_per_hour must be > 0")
	}
	if c.RateLimitBuffer <= 0 || c.RateLimitBuffer > 1 {
		violations = append(violations, "rate_limit_buffer must be in (0, 1]")
	}
	if c.MaxRetriesServer < 0 {
		violations = append(violations, "max_retries_server must be >= 0")
	}
	if c.MaxRetriesNetwork < 0 {
		violations = append(violations, "max_retries_network must be >= 0")
	}
	if c.BreakerThreshold <= 0 {
		violations = append(violations, "breaker_threshold must be > 0")
	}
	if c.BreakerTimeout <= 0 {
		violations = append(violations, "breaker_timeout must be > 0")
	}

	if len(violations) > 0 {
		return errors.Errorf("invalid configuration: %s", strings.Join(violations, "; "))
	}
	return nil
}
