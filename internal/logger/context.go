package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single in-flight
// operation record as it moves from post through progress to completion.
type LogContext struct {
	TraceID     string    // OpenTelemetry trace ID
	SpanID      string    // OpenTelemetry span ID
	Operation   string    // Op kind: send_unexpected, recv_expected, put, get, ...
	EndpointURI string    // Owning endpoint's fabric URI
	ContextID   int       // Per-caller-thread context index
	PeerURI     string    // Resolved peer address URI, if known
	StartTime   time.Time // For duration calculation
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

// NewLogContext creates a new LogContext for an operation against the given endpoint.
func NewLogContext(endpointURI string) *LogContext {
	return &LogContext{
		EndpointURI: endpointURI,
		StartTime:   time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:     lc.TraceID,
		SpanID:      lc.SpanID,
		Operation:   lc.Operation,
		EndpointURI: lc.EndpointURI,
		ContextID:   lc.ContextID,
		PeerURI:     lc.PeerURI,
		StartTime:   lc.StartTime,
	}
}

// WithOperation returns a copy with the operation kind set
func (lc *LogContext) WithOperation(op string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = op
	}
	return clone
}

// WithContextID returns a copy with the context index set
func (lc *LogContext) WithContextID(id int) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ContextID = id
	}
	return clone
}

// WithPeer returns a copy with the peer URI set
func (lc *LogContext) WithPeer(peerURI string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.PeerURI = peerURI
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
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
