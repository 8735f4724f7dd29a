// Package ratelimit implements the dual sliding-window admission gate the
// Flusher consults before every send attempt, so the pipeline stays under
// a per-minute and a per-hour quota without the remote endpoint ever
// needing to reject a request for rate.
//
// The shape is grounded in the teacher's token-bucket rate limiter plugin
// (examples/plugins/rate-limiter-filter), generalized from one window to
// two independently-pruned windows: golang.org/x/time/rate's Limiter is a
// single-window token bucket and can't express "admit under both a 60s
// and a 3600s cap simultaneously, blocking on whichever is tighter" — see
// DESIGN.md.
package ratelimit

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"
)

// Limiter enforces two independent sliding-window caps. Only the single
// background Flusher goroutine calls Acquire; no concurrent callers are
// expected, but the mutex keeps it safe if that ever changes.
type Limiter struct {
	mu sync.Mutex

	minuteWindow time.Duration
	hourWindow   time.Duration

	minuteCap int // effective cap, i.e. limit_per_minute * buffer
	hourCap   int

	minute *list.List // timestamps within the last minuteWindow
	hour   *list.List // timestamps within the last hourWindow

	now func() time.Time
}

// Config configures a Limiter. LimitPerMinute and LimitPerHour are the
// stated remote quotas; Buffer is the fraction of each actually used
// (spec §4.3: "applies 90% of each as its effective cap").
type Config struct {
	LimitPerMinute int
	LimitPerHour   int
	Buffer         float64
}

// New creates a Limiter from cfg. A Buffer outside (0, 1] defaults to
// 0.9, matching spec's stated 90%.
func New(cfg Config) *Limiter {
	buf := cfg.Buffer
	if buf <= 0 || buf > 1 {
		buf = 0.9
	}
	return &Limiter{
		minuteWindow: 60 * time.Second,
		hourWindow:   3600 * time.Second,
		minuteCap:    effectiveCap(cfg.LimitPerMinute, buf),
		hourCap:      effectiveCap(cfg.LimitPerHour, buf),
		minute:       list.New(),
		hour:         list.New(),
		now:          time.Now,
	}
}

func effectiveCap(limit int, buffer float64) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Ceil(float64(limit) * buffer))
}

// Acquire blocks until both windows would admit one more send, then
// records the admission in both windows. It is cancellable: if ctx is
// done while waiting, Acquire returns ctx.Err() without recording an
// admission.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAdmit()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			// Re-check: another window may now be binding.
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// tryAdmit prunes both windows, and either admits immediately (returning
// ok=true) or reports how long to sleep before the binding window's
// oldest entry ages out (plus 1ms jitter), per spec §4.3.
func (l *Limiter) tryAdmit() (wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	prune(l.minute, now, l.minuteWindow)
	prune(l.hour, now, l.hourWindow)

	minuteBound := l.minuteCap > 0 && l.minute.Len() >= l.minuteCap
	hourBound := l.hourCap > 0 && l.hour.Len() >= l.hourCap

	if !minuteBound && !hourBound {
		l.minute.PushBack(now)
		l.hour.PushBack(now)
		return 0, true
	}

	var oldest time.Time
	if minuteBound {
		oldest = l.minute.Front().Value.(time.Time)
	}
	if hourBound {
		hourOldest := l.hour.Front().Value.(time.Time)
		if oldest.IsZero() || hourOldest.Before(oldest) {
			oldest = hourOldest
		}
	}

	window := l.minuteWindow
	if hourBound && (!minuteBound || l.hour.Front().Value.(time.Time).Equal(oldest)) {
		window = l.hourWindow
	}

	sleepUntil := oldest.Add(window).Add(time.Millisecond)
	d := sleepUntil.Sub(now)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d, false
}

func prune(l *list.List, now time.Time, window time.Duration) {
	for e := l.Front(); e != nil; {
		ts := e.Value.(time.Time)
		if now.Sub(ts) <= window {
			break
		}
		next := e.Next()
		l.Remove(e)
		e = next
	}
}

// MinuteCount and HourCount report the current (pruned) window
// occupancy, used by Metrics to surface window rates.
func (l *Limiter) MinuteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	prune(l.minute, l.now(), l.minuteWindow)
	return l.minute.Len()
}

func (l *Limiter) HourCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	prune(l.hour, l.now(), l.hourWindow)
	return l.hour.Len()
}
