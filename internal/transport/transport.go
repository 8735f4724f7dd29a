// Package transport turns a validated Batch into one of the classified
// outcomes of spec §4.4 by POSTing it to the remote ingestion endpoint.
//
// The pooled client is built with github.com/hashicorp/go-cleanhttp
// (the teacher's own indirect dependency, promoted to direct use here)
// and requests are issued through github.com/hashicorp/go-retryablehttp
// for its re-readable request body, but with RetryMax pinned to 0: this
// package performs exactly one HTTP attempt per Send call. Retry
// decisions are internal/retry's job, not this package's or the HTTP
// client's — classifying the outcome correctly by status code matters
// more here than any generic retry heuristic a library would apply.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/nanolog-ingest/ingestsdk/internal/wire"
	"github.com/nanolog-ingest/ingestsdk/pkg/types"
)

// Class identifies which of the eight outcome classes a Send attempt
// produced.
type Class int

const (
	Accepted Class = iota
	ClientValidation
	AuthInvalid
	NotFound
	Throttled
	BackpressureFull
	ServerTransient
	NetworkError
)

func (c Class) String() string {
	switch c {
	case Accepted:
		return "accepted"
	case ClientValidation:
		return "client_validation"
	case AuthInvalid:
		return "auth_invalid"
	case NotFound:
		return "not_found"
	case Throttled:
		return "throttled"
	case BackpressureFull:
		return "backpressure_full"
	case ServerTransient:
		return "server_transient"
	case NetworkError:
		return "network_error"
	default:
		return "unknown"
	}
}

// AcceptedBody is the parsed 202 response body (spec §6).
type AcceptedBody struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// Outcome is the sole input to the retry policy (internal/retry).
type Outcome struct {
	Class      Class
	StatusCode int
	RetryAfter time.Duration // only meaningful for Throttled/BackpressureFull
	Body       *AcceptedBody // only set for Accepted
	Err        error         // set for NetworkError, and wraps any transport-level failure
}

// Config configures a Transport.
type Config struct {
	BaseURL        string
	APIKey         string
	PoolSize       int
	RequestTimeout time.Duration
	GzipEnabled    bool
}

// Transport sends batches to the remote ingestion endpoint.
type Transport struct {
	cfg    Config
	client *retryablehttp.Client

	mu     sync.RWMutex
	apiKey string
}

// New builds a Transport whose HTTP client is pooled to cfg.PoolSize
// connections and times out each request attempt after
// cfg.RequestTimeout.
func New(cfg Config) *Transport {
	pooled := cleanhttp.DefaultPooledClient()
	if t, ok := pooled.Transport.(*http.Transport); ok {
		t.MaxIdleConnsPerHost = cfg.PoolSize
		t.MaxIdleConns = cfg.PoolSize
	}
	pooled.Timeout = cfg.RequestTimeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = pooled
	rc.RetryMax = 0
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, nil
	}
	rc.Logger = nil

	return &Transport{cfg: cfg, client: rc, apiKey: cfg.APIKey}
}

// SetAPIKey swaps the bearer credential used by future Send calls,
// letting Client.RefreshCredentials rotate keys without rebuilding the
// pooled connection underneath.
func (t *Transport) SetAPIKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apiKey = key
}

func (t *Transport) currentAPIKey() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.apiKey
}

// Close releases the pooled connections.
func (t *Transport) Close() {
	t.client.HTTPClient.CloseIdleConnections()
}

// Send issues exactly one POST attempt carrying batch and classifies the
// result per spec §4.4. Send never retries internally; it is the caller's
// (internal/flusher's) job to decide whether and when to call Send again.
func (t *Transport) Send(ctx context.Context, batch types.Batch) Outcome {
	body, contentEncoding, err := wire.EncodeBatch(batch, t.cfg.GzipEnabled)
	if err != nil {
		return Outcome{Class: NetworkError, Err: errors.Wrap(err, "encode batch")}
	}

	url := fmt.Sprintf("%s/api/v1/ingest/batch", trimTrailingSlash(t.cfg.BaseURL))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Class: NetworkError, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Authorization", "Bearer "+t.currentAPIKey())
	req.Header.Set("Content-Type", "application/json")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Outcome{Class: NetworkError, Err: classifyNetworkError(err)}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return Outcome{Class: NetworkError, StatusCode: resp.StatusCode, Err: errors.Wrap(readErr, "read response body")}
	}

	return classify(resp.StatusCode, resp.Header, respBody)
}

func classify(status int, header http.Header, body []byte) Outcome {
	switch {
	case status == http.StatusAccepted:
		var parsed AcceptedBody
		if err := json.Unmarshal(body, &parsed); err != nil {
			return Outcome{Class: Accepted, StatusCode: status, Body: &AcceptedBody{}}
		}
		return Outcome{Class: Accepted, StatusCode: status, Body: &parsed}

	case status == http.StatusBadRequest:
		return Outcome{Class: ClientValidation, StatusCode: status, Err: errors.Errorf("client validation error: %s", body)}

	case status == http.StatusUnauthorized:
		return Outcome{Class: AuthInvalid, StatusCode: status, Err: errors.New("api key invalid")}

	case status == http.StatusNotFound:
		return Outcome{Class: NotFound, StatusCode: status, Err: errors.New("project not found")}

	case status == http.StatusTooManyRequests:
		return Outcome{Class: Throttled, StatusCode: status, RetryAfter: retryAfter(header)}

	case status == http.StatusServiceUnavailable:
		return Outcome{Class: BackpressureFull, StatusCode: status, RetryAfter: retryAfter(header)}

	case status >= 500:
		return Outcome{Class: ServerTransient, StatusCode: status, Err: errors.Errorf("server error %d", status)}

	default:
		return Outcome{Class: ServerTransient, StatusCode: status, Err: errors.Errorf("unexpected status %d", status)}
	}
}

// retryAfter parses the Retry-After header as integer seconds, defaulting
// to 60s when absent or unparsable (spec §4.4, §6).
func retryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 60 * time.Second
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 60 * time.Second
	}
	return time.Duration(secs) * time.Second
}

func classifyNetworkError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Wrap(netErr, "network error")
	}
	return errors.Wrap(err, "network error")
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
