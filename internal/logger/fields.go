package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are designed to be provider-agnostic, supporting sockets, verbs,
// psm2 and gni backends uniformly. Use these keys consistently across all log
// statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Provider & Domain
	// ========================================================================
	KeyProvider   = "provider"    // Provider tag: sockets, verbs, psm2, gni
	KeyDeviceName = "device_name" // Provider device name
	KeyDomainID   = "domain_id"   // Process-global domain instance ID (uuid)
	KeyRefCount   = "refcount"    // Reference count on a domain/address/op

	// ========================================================================
	// Endpoint & Context
	// ========================================================================
	KeyEndpointURI = "endpoint_uri" // This endpoint's own fabric URI
	KeyContextID   = "context_id"   // Per-caller-thread context index
	KeyWithSEP     = "with_sep"     // Whether the endpoint uses a scalable endpoint

	// ========================================================================
	// Operation Records
	// ========================================================================
	KeyOpID      = "op_id"      // Operation record correlation ID (xid)
	KeyOpKind    = "op_kind"    // lookup, send_unexpected, send_expected, recv_unexpected, recv_expected, put, get
	KeyTag       = "tag"        // Tagged-message match tag
	KeyPeerURI   = "peer_uri"   // Resolved peer address URI
	KeyNAStatus  = "na_status"  // Completion/return status kind (§7)
	KeyCancelled = "cancelled"  // Whether the op was cancelled

	// ========================================================================
	// I/O
	// ========================================================================
	KeyBufSize   = "buf_size"   // Buffer capacity in bytes
	KeyMsgSize   = "msg_size"   // Actual message size
	KeyOffset    = "offset"     // RMA remote offset
	KeyKeyValue  = "mr_key"     // Memory registration key

	// ========================================================================
	// Completion Queue / Progress
	// ========================================================================
	KeyCQEvent   = "cq_event"   // CQ event flags demultiplexed
	KeyTimeoutMs = "timeout_ms" // Progress budget requested

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
	KeyAttempt    = "attempt"     // Retry attempt number
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Provider returns a slog.Attr for the provider tag
func Provider(name string) slog.Attr {
	return slog.String(KeyProvider, name)
}

// DeviceName returns a slog.Attr for the provider device name
func DeviceName(name string) slog.Attr {
	return slog.String(KeyDeviceName, name)
}

// DomainID returns a slog.Attr for the process-global domain instance ID
func DomainID(id string) slog.Attr {
	return slog.String(KeyDomainID, id)
}

// RefCount returns a slog.Attr for a reference count
func RefCount(n int32) slog.Attr {
	return slog.Int(KeyRefCount, int(n))
}

// EndpointURI returns a slog.Attr for an endpoint's own fabric URI
func EndpointURI(uri string) slog.Attr {
	return slog.String(KeyEndpointURI, uri)
}

// ContextID returns a slog.Attr for a per-caller-thread context index
func ContextID(id int) slog.Attr {
	return slog.Int(KeyContextID, id)
}

// WithSEP returns a slog.Attr for whether a scalable endpoint is in use
func WithSEP(sep bool) slog.Attr {
	return slog.Bool(KeyWithSEP, sep)
}

// OpID returns a slog.Attr for an operation record correlation ID
func OpID(id string) slog.Attr {
	return slog.String(KeyOpID, id)
}

// OpKind returns a slog.Attr for an operation kind
func OpKind(kind string) slog.Attr {
	return slog.String(KeyOpKind, kind)
}

// Tag returns a slog.Attr for a tagged-message match tag
func Tag(tag uint64) slog.Attr {
	return slog.Uint64(KeyTag, tag)
}

// PeerURI returns a slog.Attr for a resolved peer address URI
func PeerURI(uri string) slog.Attr {
	return slog.String(KeyPeerURI, uri)
}

// NAStatus returns a slog.Attr for a completion/return status kind
func NAStatus(status string) slog.Attr {
	return slog.String(KeyNAStatus, status)
}

// Cancelled returns a slog.Attr for whether an op was cancelled
func Cancelled(c bool) slog.Attr {
	return slog.Bool(KeyCancelled, c)
}

// BufSize returns a slog.Attr for buffer capacity
func BufSize(n int) slog.Attr {
	return slog.Int(KeyBufSize, n)
}

// MsgSize returns a slog.Attr for actual message size
func MsgSize(n uint64) slog.Attr {
	return slog.Uint64(KeyMsgSize, n)
}

// Offset returns a slog.Attr for an RMA remote offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// MRKey returns a slog.Attr for a memory registration key
func MRKey(key uint64) slog.Attr {
	return slog.Uint64(KeyKeyValue, key)
}

// CQEvent returns a slog.Attr for a demultiplexed CQ event flag set
func CQEvent(flags uint64) slog.Attr {
	return slog.String(KeyCQEvent, fmt.Sprintf("0x%x", flags))
}

// TimeoutMs returns a slog.Attr for a requested progress budget
func TimeoutMs(ms int) slog.Attr {
	return slog.Int(KeyTimeoutMs, ms)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
