package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the endpoint FSMs.
// Use these keys consistently so transition logs can be aggregated and
// queried by state/source/address across both the bound and connected
// endpoint.
const (
	KeyTraceID   = "trace_id"
	KeyAddress   = "address"    // endpoint address
	KeyState     = "state"      // FSM state
	KeySource    = "source"     // sub-machine source tag
	KeyEventType = "event"      // event type delivered to the handler
	KeyChildID   = "child_id"   // established-session ID
	KeyErrorCode = "error_code"
	KeyError     = "error"
	KeyAttempt   = "attempt"    // backoff attempt number
	KeyDelayMs   = "delay_ms"   // computed backoff delay
	KeyOperation = "operation"
)

// TraceID returns a slog.Attr for the correlation ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// Address returns a slog.Attr for the endpoint address.
func Address(addr string) slog.Attr { return slog.String(KeyAddress, addr) }

// State returns a slog.Attr for the FSM state.
func State(state string) slog.Attr { return slog.String(KeyState, state) }

// Source returns a slog.Attr for the sub-machine source tag.
func Source(source string) slog.Attr { return slog.String(KeySource, source) }

// EventType returns a slog.Attr for the event type.
func EventType(t string) slog.Attr { return slog.String(KeyEventType, t) }

// ChildID returns a slog.Attr for an established-session ID.
func ChildID(id uint64) slog.Attr { return slog.Uint64(KeyChildID, id) }

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for a backoff attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// DelayMs returns a slog.Attr for a computed backoff delay in milliseconds.
func DelayMs(ms float64) slog.Attr { return slog.Float64(KeyDelayMs, ms) }

// Operation returns a slog.Attr for a free-form operation description.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }
