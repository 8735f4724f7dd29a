// Package types defines the wire data model shared by every stage of the
// ingestion pipeline: the record a producer hands to Enqueue, the batch a
// Flusher builds from validated records, and the small pieces of state the
// queue and circuit breaker track about them.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Level is the severity of a LogRecord.
type Level string

// Severity levels, ordered low to high.
const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// IsValid reports whether l is one of the known severity levels.
func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// LogType classifies where a record originated.
type LogType string

const (
	LogTypeConsole   LogType = "console"
	LogTypeLogger    LogType = "logger"
	LogTypeException LogType = "exception"
	LogTypeCustom    LogType = "custom"
	LogTypeHTTP      LogType = "http"
)

// IsValid reports whether t is one of the known log types.
func (t LogType) IsValid() bool {
	switch t {
	case LogTypeConsole, LogTypeLogger, LogTypeException, LogTypeCustom, LogTypeHTTP:
		return true
	}
	return false
}

// Importance is a producer-assigned priority hint; it does not affect
// ordering or delivery, only gives the remote end a triage signal.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceStandard Importance = "standard"
	ImportanceHigh     Importance = "high"
)

// IsValid reports whether i is one of the known importance tiers.
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceLow, ImportanceStandard, ImportanceHigh:
		return true
	}
	return false
}

// Field byte limits enforced by the validator (internal/validator).
const (
	MaxMessageBytes      = 10_000
	MaxErrorTypeBytes    = 255
	MaxErrorMessageBytes = 5_000
	MaxStackTraceBytes   = 50_000
	MaxAttributesBytes   = 100_000
)

// TruncationMarker is appended to any bounded string field that had to be
// shortened to fit its limit.
const TruncationMarker = "... [truncated]"

// LogRecord is the unit of ingestion, as produced by application code or a
// framework adapter and, once validated, as carried inside a Batch.
type LogRecord struct {
	Timestamp    time.Time              `json:"timestamp"`
	Level        Level                  `json:"level"`
	LogType      LogType                `json:"log_type"`
	Importance   Importance             `json:"importance"`
	Message      string                 `json:"message"`
	ErrorType    string                 `json:"error_type,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	StackTrace   string                 `json:"stack_trace,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
}

// MarshalJSON renders Timestamp with millisecond precision and a trailing
// "Z", per the wire format in spec §3 and §6.
func (r LogRecord) MarshalJSON() ([]byte, error) {
	type wire struct {
		Timestamp    string                 `json:"timestamp"`
		Level        Level                  `json:"level"`
		LogType      LogType                `json:"log_type"`
		Importance   Importance             `json:"importance"`
		Message      string                 `json:"message"`
		ErrorType    string                 `json:"error_type,omitempty"`
		ErrorMessage string                 `json:"error_message,omitempty"`
		StackTrace   string                 `json:"stack_trace,omitempty"`
		Attributes   map[string]interface{} `json:"attributes,omitempty"`
	}
	return json.Marshal(wire{
		Timestamp:    r.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:        r.Level,
		LogType:      r.LogType,
		Importance:   r.Importance,
		Message:      r.Message,
		ErrorType:    r.ErrorType,
		ErrorMessage: r.ErrorMessage,
		StackTrace:   r.StackTrace,
		Attributes:   r.Attributes,
	})
}

// AttributesSize returns the serialized size of Attributes in bytes, used
// by the validator to enforce MaxAttributesBytes.
func (r LogRecord) AttributesSize() (int, error) {
	if len(r.Attributes) == 0 {
		return 0, nil
	}
	b, err := json.Marshal(r.Attributes)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// TruncateString shortens s to fit within limit bytes, appending
// TruncationMarker, and reports whether truncation happened. It never
// rounds; excess bytes beyond limit-len(marker) are simply cut.
func TruncateString(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	marker := TruncationMarker
	keep := limit - len(marker)
	if keep < 0 {
		keep = 0
	}
	// Avoid splitting a multi-byte rune in half.
	cut := s[:keep]
	for len(cut) > 0 && !isValidUTF8Boundary(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + marker, true
}

func isValidUTF8Boundary(s string) bool {
	return strings.ToValidUTF8(s, "") == s
}

// Batch is an ordered, finite sequence of validated records presented to
// the transport in a single send attempt. Its lifetime spans one transport
// attempt plus any retries of that same attempt (spec §3).
type Batch struct {
	Records []LogRecord
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// QueueSlot is a record held in the bounded queue together with the time it
// was enqueued, used only for latency metrics.
type QueueSlot struct {
	Record     LogRecord
	EnqueuedAt time.Time
}
