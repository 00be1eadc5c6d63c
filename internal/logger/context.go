package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for one endpoint's
// handler invocation: which sub-machine event is being processed and what
// the endpoint's address is, so a transition can be traced end to end.
type LogContext struct {
	TraceID   string // correlation ID across a reconnect/accept cycle
	Address   string // endpoint address (bound IFACE:PORT or connected HOST:PORT)
	State     string // FSM state at the time of the log line
	Source    string // sub-machine source tag (socket, backoff, dns, session, child)
	ChildID   uint64 // established-session ID, when Source == "child"
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for the given endpoint address.
func NewLogContext(address string) *LogContext {
	return &LogContext{Address: address, StartTime: time.Now()}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithState returns a copy with the state set
func (lc *LogContext) WithState(state string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.State = state
	}
	return clone
}

// WithSource returns a copy with the sub-machine source set
func (lc *LogContext) WithSource(source string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Source = source
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
