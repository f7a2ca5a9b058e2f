package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Session
	// ========================================================================
	KeySessionID = "session_id" // AuthSession identifier
	KeyMechanism = "mechanism"  // pki, negotiated-context
	KeyRole      = "role"       // initiator, acceptor
	KeyState     = "state"      // Idle, Exchanging, Established, Failed
	KeyRound     = "round"      // handshake round number
	KeyStatus    = "status"     // continue, complete
	KeyPeer      = "peer"       // validated peer name
	KeyRealm     = "realm"      // Kerberos realm or certificate issuer
	KeyBytesIn   = "bytes_in"   // inbound message size
	KeyBytesOut  = "bytes_out"  // outbound message size

	// ========================================================================
	// Credentials
	// ========================================================================
	KeyHandle      = "handle"      // credential handle
	KeyCredKind    = "cred_kind"   // pki, context
	KeySubject     = "subject"     // certificate subject or principal
	KeyFingerprint = "fingerprint" // digest of the certificate or ticket
	KeyNotAfter    = "not_after"   // credential expiry
	KeyPath        = "path"        // file path of credential material

	// ========================================================================
	// Digest
	// ========================================================================
	KeyAlgorithm = "algorithm" // digest algorithm name
	KeyDigest    = "digest"    // digest in name:hex form

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Redacted error message
	KeyErrorKind  = "error_kind"  // Credential, Codec, Validation, Protocol, Misuse
	KeyErrorCode  = "error_code"  // specific error code
	KeyScope      = "scope"       // session, system, unrecoverable
	KeyOperation  = "operation"   // Sub-operation type
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// SessionID returns a slog.Attr for the session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Mechanism returns a slog.Attr for the mechanism name
func Mechanism(name string) slog.Attr {
	return slog.String(KeyMechanism, name)
}

// Role returns a slog.Attr for the handshake role
func Role(role string) slog.Attr {
	return slog.String(KeyRole, role)
}

// State returns a slog.Attr for a session state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// Round returns a slog.Attr for a handshake round
func Round(n int) slog.Attr {
	return slog.Int(KeyRound, n)
}

// Peer returns a slog.Attr for a validated peer name
func Peer(name string) slog.Attr {
	return slog.String(KeyPeer, name)
}

// Handle returns a slog.Attr for a credential handle
func Handle(h string) slog.Attr {
	return slog.String(KeyHandle, h)
}

// Subject returns a slog.Attr for a certificate subject or principal
func Subject(s string) slog.Attr {
	return slog.String(KeySubject, s)
}

// Path returns a slog.Attr for a file path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Algorithm returns a slog.Attr for a digest algorithm
func Algorithm(name string) slog.Attr {
	return slog.String(KeyAlgorithm, name)
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

// Operation returns a slog.Attr for sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
