// Package validator enforces shape and size invariants on a single
// LogRecord before it is allowed into the queue. It is pure: no I/O, no
// shared state beyond the constant limits table.
package validator

import (
	"fmt"
	"time"

	"github.com/nanolog-ingest/ingestsdk/pkg/types"
)

// Failure describes the first invariant a record violated. Validate
// returns at most one Failure per call; it does not accumulate multiple
// violations the way Config.Validate does, since a record is rejected as
// soon as one requirement fails.
type Failure struct {
	Field   string
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// Validate checks rec against the invariants in spec §4.1 and returns a
// new record with bounded string fields truncated in place. Truncation is
// never a failure; only a missing required field, an unknown enum value,
// or an oversized attributes payload is.
func Validate(rec types.LogRecord) (types.LogRecord, *Failure) {
	if rec.Message == "" {
		return rec, &Failure{Field: "message", Message: "required field is empty"}
	}
	if !rec.Level.IsValid() {
		return rec, &Failure{Field: "level", Message: fmt.Sprintf("unknown level %q", rec.Level)}
	}
	if !rec.LogType.IsValid() {
		return rec, &Failure{Field: "log_type", Message: fmt.Sprintf("unknown log_type %q", rec.LogType)}
	}
	if rec.Importance == "" {
		rec.Importance = types.ImportanceStandard
	}
	if !rec.Importance.IsValid() {
		return rec, &Failure{Field: "importance", Message: fmt.Sprintf("unknown importance %q", rec.Importance)}
	}

	if rec.LogType == types.LogTypeException {
		if rec.ErrorType == "" {
			return rec, &Failure{Field: "error_type", Message: "required when log_type=exception"}
		}
		if rec.ErrorMessage == "" {
			return rec, &Failure{Field: "error_message", Message: "required when log_type=exception"}
		}
	} else if rec.ErrorType != "" || rec.ErrorMessage != "" || rec.StackTrace != "" {
		return rec, &Failure{Field: "log_type", Message: "error_type/error_message/stack_trace only allowed when log_type=exception"}
	}

	rec.Timestamp = normalizeTimestamp(rec.Timestamp)

	rec.Message, _ = types.TruncateString(rec.Message, types.MaxMessageBytes)
	if rec.ErrorType != "" {
		rec.ErrorType, _ = types.TruncateString(rec.ErrorType, types.MaxErrorTypeBytes)
	}
	if rec.ErrorMessage != "" {
		rec.ErrorMessage, _ = types.TruncateString(rec.ErrorMessage, types.MaxErrorMessageBytes)
	}
	if rec.StackTrace != "" {
		rec.StackTrace, _ = types.TruncateString(rec.StackTrace, types.MaxStackTraceBytes)
	}

	if size, err := rec.AttributesSize(); err != nil {
		return rec, &Failure{Field: "attributes", Message: fmt.Sprintf("not JSON-serializable: %v", err)}
	} else if size > types.MaxAttributesBytes {
		return rec, &Failure{Field: "attributes", Message: fmt.Sprintf("serialized size %d exceeds %d bytes", size, types.MaxAttributesBytes)}
	}

	return rec, nil
}

// normalizeTimestamp fills in "now" for a zero timestamp and truncates
// (never rounds) any precision finer than a millisecond. The wire encoder
// (types.LogRecord.MarshalJSON) is responsible for rendering whatever zone
// survives here as UTC with a "Z" suffix, so a timestamp built without an
// explicit zone is treated as UTC by construction.
func normalizeTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.Truncate(time.Millisecond)
}
