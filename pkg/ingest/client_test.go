package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nanolog-ingest/ingestsdk/internal/transport"
	"github.com/nanolog-ingest/ingestsdk/pkg/types"
)

func testConfig(baseURL string) Config {
	cfg := *DefaultConfig()
	cfg.APIKey = "nlk_test_key"
	cfg.BaseURL = baseURL
	cfg.FlushInterval = 30 * time.Millisecond
	cfg.FlushSize = 100
	cfg.Diag = func(source, message string) {}
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := Config{}
	_, err := New(cfg)
	if err == nil {
		t.Fatalf("expected validation error for empty config")
	}
}

func TestEnqueue_ValidationFailureReturnsErr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(transport.AcceptedBody{})
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Shutdown(time.Second)

	result := c.Enqueue(types.LogRecord{}) // missing required Message
	if result.Accepted {
		t.Fatalf("expected validation failure to be rejected")
	}
	if result.Err == nil {
		t.Fatalf("expected non-nil error")
	}
}

// TestHappyPath mirrors S1: fifty valid records flushed as one batch.
func TestHappyPath_SingleBatchSent(t *testing.T) {
	var mu sync.Mutex
	var receivedBatches [][]types.LogRecord

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Logs []types.LogRecord `json:"logs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		receivedBatches = append(receivedBatches, body.Logs)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(transport.AcceptedBody{Accepted: len(body.Logs)})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.FlushInterval = time.Second
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Shutdown(time.Second)

	for i := 0; i < 50; i++ {
		result := c.Enqueue(types.LogRecord{Message: "hello", Level: types.LevelInfo, LogType: types.LogTypeLogger})
		if !result.Accepted {
			t.Fatalf("enqueue %d rejected: %v", i, result.Err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return c.Metrics().BatchesSent >= 1
	})

	snap := c.Metrics()
	if snap.BatchesSent != 1 {
		t.Fatalf("expected exactly one batch, got %d", snap.BatchesSent)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(receivedBatches) != 1 || len(receivedBatches[0]) != 50 {
		t.Fatalf("expected one batch of 50 records, got %d batches: %v", len(receivedBatches), receivedBatches)
	}
}

// TestAuthLatch mirrors S6: a 401 halts sending until RefreshCredentials.
func TestAuthLatch_HaltsThenResumesAfterRefresh(t *testing.T) {
	var rejecting atomic401

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rejecting.load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Logs []types.LogRecord `json:"logs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(transport.AcceptedBody{Accepted: len(body.Logs)})
	}))
	defer srv.Close()
	rejecting.store(true)

	cfg := testConfig(srv.URL)
	cfg.FlushInterval = 20 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Shutdown(time.Second)

	c.Enqueue(types.LogRecord{Message: "one", Level: types.LevelInfo, LogType: types.LogTypeLogger})

	waitFor(t, time.Second, func() bool {
		return c.Health().Status == Unhealthy
	})

	c.Enqueue(types.LogRecord{Message: "two", Level: types.LevelInfo, LogType: types.LogTypeLogger})
	if c.Metrics().Enqueued != 2 {
		t.Fatalf("expected Enqueue to keep accepting records while latched")
	}

	rejecting.store(false)
	if err := c.RefreshCredentials("nlk_rotated_key"); err != nil {
		t.Fatalf("unexpected error from RefreshCredentials: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return c.Metrics().BatchesSent >= 1
	})
}

func TestShutdown_Idempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(transport.AcceptedBody{})
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("unexpected error on first shutdown: %v", err)
	}
	if err := c.Shutdown(time.Second); err != nil {
		t.Fatalf("unexpected error on second shutdown: %v", err)
	}
}

func TestHealth_HealthyWithNoIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(transport.AcceptedBody{})
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Shutdown(time.Second)

	if got := c.Health().Status; got != Healthy {
		t.Fatalf("expected Healthy, got %v", got)
	}
}

// atomic401 is a tiny test helper for toggling the fake server's
// behavior from the test goroutine while it's read from the handler
// goroutine.
type atomic401 struct {
	mu    sync.Mutex
	value bool
}

func (a *atomic401) store(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = v
}

func (a *atomic401) load() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}
