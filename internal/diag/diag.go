// Package diag is the one place internal diagnostics leave the pipeline.
// Nothing in the core ever writes back into its own queue — queue
// overflow, dropped batches, and absorbed transport failures are reported
// through a Handler instead, exactly the way the teacher library reports
// destination errors without recursing into its own logger.
package diag

import (
	"fmt"
	"os"
)

// Handler receives one diagnostic line. source identifies the component
// that raised it ("queue", "flusher", "transport", ...).
type Handler func(source, message string)

// Stderr writes diagnostics to the process's error stream, matching the
// teacher's production error handler in pkg/omni/logger.go.
func Stderr(source, message string) {
	fmt.Fprintf(os.Stderr, "ingestsdk: %s: %s\n", source, message)
}

// Silent discards diagnostics; used by tests so assertions aren't drowned
// out by expected-failure noise.
func Silent(source, message string) {}

// RateLimited wraps a Handler so that it only fires once every n calls for
// a given source, used for the queue's "one diagnostic per 1000 drops"
// rule (spec §4.2). Not safe for concurrent use by itself; callers that
// invoke it from multiple goroutines must serialize calls externally (the
// queue does this by emitting diagnostics only while holding its own
// lock).
func RateLimited(next Handler, n uint64) Handler {
	if n == 0 {
		n = 1
	}
	counts := make(map[string]uint64)
	return func(source, message string) {
		counts[source]++
		if counts[source]%n == 0 {
			next(source, message)
		}
	}
}
