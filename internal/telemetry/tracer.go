package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for handshake and credential spans.
const (
	// ========================================================================
	// Session attributes
	// ========================================================================
	AttrSessionID = "auth.session_id"
	AttrMechanism = "auth.mechanism" // pki, negotiated-context
	AttrRole      = "auth.role"      // initiator, acceptor
	AttrRound     = "auth.round"
	AttrStatus    = "auth.status" // continue, complete
	AttrState     = "auth.state"
	AttrPeer      = "auth.peer"
	AttrBytesIn   = "auth.bytes_in"
	AttrBytesOut  = "auth.bytes_out"

	// ========================================================================
	// Credential attributes
	// ========================================================================
	AttrCredHandle = "credential.handle"
	AttrCredKind   = "credential.kind"
	AttrCredMode   = "credential.evict_mode" // blocking, try

	// ========================================================================
	// Digest attributes
	// ========================================================================
	AttrDigestAlgorithm = "digest.algorithm"
	AttrDigestBytes     = "digest.bytes"

	// ========================================================================
	// Error attributes
	// ========================================================================
	AttrErrorKind = "error.kind"
	AttrErrorCode = "error.code"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanSessionStep      = "session.step"
	SpanMechanismAdvance = "mechanism.advance"
	SpanCredentialLoad   = "credential.load"
	SpanCredentialEvict  = "credential.evict"
	SpanDigestSum        = "digest.sum"
)

// SessionID returns an attribute for the session identifier
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// Mechanism returns an attribute for the mechanism name
func Mechanism(name string) attribute.KeyValue {
	return attribute.String(AttrMechanism, name)
}

// Role returns an attribute for the handshake role
func Role(role string) attribute.KeyValue {
	return attribute.String(AttrRole, role)
}

// Round returns an attribute for the handshake round
func Round(n int) attribute.KeyValue {
	return attribute.Int(AttrRound, n)
}

// Status returns an attribute for the step status
func Status(s string) attribute.KeyValue {
	return attribute.String(AttrStatus, s)
}

// State returns an attribute for the session state
func State(s string) attribute.KeyValue {
	return attribute.String(AttrState, s)
}

// Peer returns an attribute for the validated peer name
func Peer(name string) attribute.KeyValue {
	return attribute.String(AttrPeer, name)
}

// BytesIn returns an attribute for the inbound message size
func BytesIn(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesIn, n)
}

// BytesOut returns an attribute for the outbound message size
func BytesOut(n int) attribute.KeyValue {
	return attribute.Int(AttrBytesOut, n)
}

// CredHandle returns an attribute for a credential handle
func CredHandle(h string) attribute.KeyValue {
	return attribute.String(AttrCredHandle, h)
}

// CredKind returns an attribute for the credential kind
func CredKind(kind string) attribute.KeyValue {
	return attribute.String(AttrCredKind, kind)
}

// EvictMode returns an attribute for the eviction mode
func EvictMode(mode string) attribute.KeyValue {
	return attribute.String(AttrCredMode, mode)
}

// DigestAlgorithm returns an attribute for a digest algorithm name
func DigestAlgorithm(name string) attribute.KeyValue {
	return attribute.String(AttrDigestAlgorithm, name)
}

// DigestBytes returns an attribute for the number of bytes hashed
func DigestBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrDigestBytes, n)
}

// StartSessionSpan starts the span covering one AuthSession step.
func StartSessionSpan(ctx context.Context, sessionID, mechanism, role string, round int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		SessionID(sessionID),
		Mechanism(mechanism),
		Role(role),
		Round(round),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanSessionStep, trace.WithAttributes(allAttrs...))
}

// StartMechanismSpan starts a child span for a mechanism driver round.
func StartMechanismSpan(ctx context.Context, mechanism string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Mechanism(mechanism)}, attrs...)
	return StartSpan(ctx, SpanMechanismAdvance, trace.WithAttributes(allAttrs...))
}

// StartCredentialSpan starts a span for a credential store operation.
func StartCredentialSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}
