package retry

import (
	"testing"
	"time"

	"github.com/nanolog-ingest/ingestsdk/internal/transport"
)

func defaultPolicy() Policy { return NewPolicy(0, 0) }

func TestDecide_Accepted(t *testing.T) {
	a := defaultPolicy().Decide(transport.Accepted, 1, 0)
	if a.Disposition != Commit {
		t.Fatalf("expected Commit, got %v", a.Disposition)
	}
}

func TestDecide_ClientValidationDropsImmediately(t *testing.T) {
	a := defaultPolicy().Decide(transport.ClientValidation, 1, 0)
	if a.Disposition != DropBatch {
		t.Fatalf("expected DropBatch, got %v", a.Disposition)
	}
}

func TestDecide_AuthInvalidLatches(t *testing.T) {
	a := defaultPolicy().Decide(transport.AuthInvalid, 1, 0)
	if a.Disposition != DropBatch || a.Latch != "api_key_invalid" {
		t.Fatalf("expected DropBatch+api_key_invalid latch, got %+v", a)
	}
}

func TestDecide_NotFoundLatches(t *testing.T) {
	a := defaultPolicy().Decide(transport.NotFound, 1, 0)
	if a.Disposition != DropBatch || a.Latch != "project_not_found" {
		t.Fatalf("expected DropBatch+project_not_found latch, got %+v", a)
	}
}

func TestDecide_ServerTransientSchedule(t *testing.T) {
	p := defaultPolicy()
	delays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range delays {
		a := p.Decide(transport.ServerTransient, i+1, 0)
		if a.Disposition != Retry || a.Delay != want {
			t.Fatalf("attempt %d: expected Retry with delay %v, got %+v", i+1, want, a)
		}
	}
	a := p.Decide(transport.ServerTransient, 4, 0)
	if a.Disposition != GiveUp {
		t.Fatalf("expected GiveUp after 3 server-transient attempts, got %v", a.Disposition)
	}
}

func TestDecide_NetworkErrorScheduleCapped(t *testing.T) {
	p := defaultPolicy()
	a := p.Decide(transport.NetworkError, 1, 0)
	if a.Delay != 5*time.Second {
		t.Fatalf("expected 5s, got %v", a.Delay)
	}
	a = p.Decide(transport.NetworkError, 2, 0)
	if a.Delay != 10*time.Second {
		t.Fatalf("expected 10s, got %v", a.Delay)
	}
	a = p.Decide(transport.NetworkError, 3, 0)
	if a.Delay != 20*time.Second {
		t.Fatalf("expected 20s, got %v", a.Delay)
	}
	a = p.Decide(transport.NetworkError, 4, 0)
	if a.Disposition != GiveUp {
		t.Fatalf("expected GiveUp after 3 network-error attempts, got %v", a.Disposition)
	}
}

func TestDecide_NetworkErrorDelayCapsAtFortySeconds(t *testing.T) {
	p := NewPolicy(3, 10)
	a := p.Decide(transport.NetworkError, 10, 0)
	if a.Disposition != Retry || a.Delay != 40*time.Second {
		t.Fatalf("expected delay capped at 40s, got %+v", a)
	}
}

func TestDecide_ThrottledUsesRetryAfter(t *testing.T) {
	a := defaultPolicy().Decide(transport.Throttled, 1, 45*time.Second)
	if a.Disposition != Retry || a.Delay != 45*time.Second {
		t.Fatalf("expected Retry with 45s delay, got %+v", a)
	}
}

func TestDecide_ThrottledNeverGivesUp(t *testing.T) {
	p := defaultPolicy()
	for attempt := 1; attempt <= 50; attempt++ {
		a := p.Decide(transport.Throttled, attempt, 10*time.Second)
		if a.Disposition != Retry {
			t.Fatalf("attempt %d: expected Throttled to retry indefinitely, got %v", attempt, a.Disposition)
		}
	}
}

func TestDecide_BackpressureFullFloorsDelayAtOneSecond(t *testing.T) {
	a := defaultPolicy().Decide(transport.BackpressureFull, 1, 0)
	if a.Delay != 1*time.Second {
		t.Fatalf("expected delay floored to 1s, got %v", a.Delay)
	}
}

func TestNewPolicy_DefaultsNonPositiveCounts(t *testing.T) {
	p := NewPolicy(0, -1)
	if p.MaxRetriesServer != DefaultMaxRetries || p.MaxRetriesNetwork != DefaultMaxRetries {
		t.Fatalf("expected defaults applied, got %+v", p)
	}
}

func TestNewPolicy_HonorsConfiguredCounts(t *testing.T) {
	p := NewPolicy(5, 1)
	if p.Decide(transport.ServerTransient, 5, 0).Disposition != Retry {
		t.Fatalf("expected attempt 5 to still retry with MaxRetriesServer=5")
	}
	if p.Decide(transport.ServerTransient, 6, 0).Disposition != GiveUp {
		t.Fatalf("expected attempt 6 to give up with MaxRetriesServer=5")
	}
	if p.Decide(transport.NetworkError, 2, 0).Disposition != GiveUp {
		t.Fatalf("expected attempt 2 to give up with MaxRetriesNetwork=1")
	}
}
