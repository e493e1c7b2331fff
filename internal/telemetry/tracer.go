package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for NA plugin operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Peer attributes
	// ========================================================================
	AttrPeerURI  = "na.peer_uri"
	AttrPeerIP   = "na.peer_ip"
	AttrPeerPort = "na.peer_port"

	// ========================================================================
	// Provider / domain attributes
	// ========================================================================
	AttrProvider   = "na.provider"    // sockets, verbs, psm2, gni
	AttrDeviceName = "na.device_name" // provider device name
	AttrDomainID   = "na.domain_id"   // process-global domain instance ID

	// ========================================================================
	// Endpoint / context attributes
	// ========================================================================
	AttrEndpointURI = "na.endpoint_uri"
	AttrContextID   = "na.context_id"
	AttrWithSEP     = "na.with_sep"

	// ========================================================================
	// Operation attributes
	// ========================================================================
	AttrOpKind   = "na.op_kind" // lookup, send_unexpected, send_expected, recv_unexpected, recv_expected, put, get
	AttrOpID     = "na.op_id"
	AttrTag      = "na.tag"
	AttrNAStatus = "na.status"
	AttrMsgSize  = "na.msg_size"
	AttrBufSize  = "na.buf_size"
	AttrOffset   = "na.offset"
	AttrMRKey    = "na.mr_key"

	// ========================================================================
	// Progress engine attributes
	// ========================================================================
	AttrTimeoutMs  = "na.timeout_ms"
	AttrCQEvents   = "na.cq_events"
	AttrCancelled  = "na.cancelled"
)

// Span names for operations.
const (
	SpanDomainOpen   = "na.domain.open"
	SpanDomainClose  = "na.domain.close"
	SpanEndpointOpen = "na.endpoint.open"
	SpanContextOpen  = "na.context.open"
	SpanAddrLookup   = "na.addr.lookup"

	SpanSendUnexpected = "na.send_unexpected"
	SpanSendExpected   = "na.send_expected"
	SpanRecvUnexpected = "na.recv_unexpected"
	SpanRecvExpected   = "na.recv_expected"
	SpanPut            = "na.put"
	SpanGet            = "na.get"
	SpanProgress       = "na.progress"
	SpanCancel         = "na.cancel"
)

// PeerURI returns an attribute for the resolved peer URI
func PeerURI(uri string) attribute.KeyValue {
	return attribute.String(AttrPeerURI, uri)
}

// Provider returns an attribute for the provider tag
func Provider(name string) attribute.KeyValue {
	return attribute.String(AttrProvider, name)
}

// DeviceName returns an attribute for the provider device name
func DeviceName(name string) attribute.KeyValue {
	return attribute.String(AttrDeviceName, name)
}

// DomainID returns an attribute for the process-global domain instance ID
func DomainID(id string) attribute.KeyValue {
	return attribute.String(AttrDomainID, id)
}

// EndpointURI returns an attribute for an endpoint's own fabric URI
func EndpointURI(uri string) attribute.KeyValue {
	return attribute.String(AttrEndpointURI, uri)
}

// ContextID returns an attribute for a per-caller-thread context index
func ContextID(id int) attribute.KeyValue {
	return attribute.Int(AttrContextID, id)
}

// OpKind returns an attribute for an operation kind
func OpKind(kind string) attribute.KeyValue {
	return attribute.String(AttrOpKind, kind)
}

// OpID returns an attribute for an operation correlation ID
func OpID(id string) attribute.KeyValue {
	return attribute.String(AttrOpID, id)
}

// Tag returns an attribute for a tagged-message match tag
func Tag(tag uint64) attribute.KeyValue {
	return attribute.Int64(AttrTag, int64(tag))
}

// NAStatus returns an attribute for a completion/return status kind
func NAStatus(status string) attribute.KeyValue {
	return attribute.String(AttrNAStatus, status)
}

// MsgSize returns an attribute for actual message size
func MsgSize(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrMsgSize, int64(n))
}

// Offset returns an attribute for an RMA remote offset
func Offset(off uint64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, int64(off))
}

// MRKey returns an attribute for a memory registration key
func MRKey(key uint64) attribute.KeyValue {
	return attribute.Int64(AttrMRKey, int64(key))
}

// TimeoutMs returns an attribute for a requested progress budget
func TimeoutMs(ms int) attribute.KeyValue {
	return attribute.Int(AttrTimeoutMs, ms)
}

// Cancelled returns an attribute for whether an op was cancelled
func Cancelled(c bool) attribute.KeyValue {
	return attribute.Bool(AttrCancelled, c)
}

// StartNASpan starts a span for an NA plugin operation, tagging it with the
// op kind and, if known, the op's correlation ID.
func StartNASpan(ctx context.Context, spanName, opKind, opID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{OpKind(opKind)}
	if opID != "" {
		allAttrs = append(allAttrs, OpID(opID))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}
