// Package errors provides the error taxonomy shared by the digest, codec,
// credential and authentication packages.
//
// This is a leaf package with no internal dependencies so that every other
// package can return typed errors without import cycles.
//
// Every error carries a Code. Codes group into five kinds:
//
//   - Credential: the store cannot produce usable secret material
//   - Codec: malformed wire bytes
//   - Validation: chain, signature, timeliness or peer rejection failures
//   - Protocol: a message that is unexpected in the current state
//   - Misuse: a programmer-level contract violation
//
// The Message of an Error is a redacted diagnostic: it never contains raw
// secret material or peer-asserted names. The underlying cause is kept for
// errors.Is / errors.As but is not part of Error().
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind groups error codes into the five top-level failure classes.
type Kind int

const (
	KindUnknown Kind = iota
	KindCredential
	KindCodec
	KindValidation
	KindProtocol
	KindMisuse
)

// String returns the name of the kind as used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "CredentialError"
	case KindCodec:
		return "CodecError"
	case KindValidation:
		return "ValidationError"
	case KindProtocol:
		return "ProtocolError"
	case KindMisuse:
		return "MisuseError"
	default:
		return "UnknownError"
	}
}

// Scope says how far the damage of an error reaches.
type Scope int

const (
	// ScopeSession errors end one handshake; other sessions are unaffected.
	ScopeSession Scope = iota
	// ScopeSystem errors concern shared state such as the credential store.
	ScopeSystem
	// ScopeUnrecoverable errors indicate a bug in the caller.
	ScopeUnrecoverable
)

func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopeSystem:
		return "system"
	case ScopeUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Code identifies the specific failure.
type Code int

const (
	// ErrMalformed indicates key, certificate, keytab, ticket or configuration
	// material that cannot be decoded.
	ErrMalformed Code = iota + 1

	// ErrUnreadable indicates backing material that cannot be accessed.
	ErrUnreadable

	// ErrEvicted indicates a borrow of a credential that has been evicted or
	// whose eviction is pending.
	ErrEvicted

	// ErrBusy indicates an eviction that could not proceed because borrows
	// are still outstanding.
	ErrBusy

	// ErrUnknownHandle indicates a handle this store never issued.
	ErrUnknownHandle

	// ErrInvalid indicates malformed wire bytes or a value of the wrong shape.
	ErrInvalid

	// ErrUntrusted indicates a chain that does not lead to a configured anchor.
	ErrUntrusted

	// ErrExpired indicates a certificate or ticket outside its validity window.
	ErrExpired

	// ErrBadSignature indicates a signature, MAC or checksum that does not verify.
	ErrBadSignature

	// ErrRevoked indicates a certificate listed in a configured CRL.
	ErrRevoked

	// ErrRejected indicates the peer refused the handshake.
	ErrRejected

	// ErrMismatch indicates values that must agree but do not, such as an
	// echoed timestamp or a negotiated algorithm.
	ErrMismatch

	// ErrNoCommonAlgorithm indicates digest preference lists with no overlap.
	ErrNoCommonAlgorithm

	// ErrNoCommonVersion indicates protocol version ranges with no overlap.
	ErrNoCommonVersion

	// ErrPolicy indicates a local policy violation such as an insufficient
	// security level or a foreign trust domain.
	ErrPolicy

	// ErrUnexpectedMessage indicates a message that does not fit the
	// current handshake state.
	ErrUnexpectedMessage

	// ErrRoundLimit indicates a handshake that exceeded its round budget.
	ErrRoundLimit

	// ErrIncomplete indicates a driver that reported completion without an
	// identity or capability.
	ErrIncomplete

	// ErrDoubleFinalize indicates Finalize called twice without Reset.
	ErrDoubleFinalize

	// ErrTerminalSession indicates a step on an Established or Failed session.
	ErrTerminalSession

	// ErrConcurrentUse indicates two goroutines stepping one session.
	ErrConcurrentUse

	// ErrUnsupported indicates an unknown algorithm, mechanism or role.
	ErrUnsupported
)

// String returns a human-readable name for the error code.
func (c Code) String() string {
	switch c {
	case ErrMalformed:
		return "Malformed"
	case ErrUnreadable:
		return "Unreadable"
	case ErrEvicted:
		return "Evicted"
	case ErrBusy:
		return "Busy"
	case ErrUnknownHandle:
		return "UnknownHandle"
	case ErrInvalid:
		return "Invalid"
	case ErrUntrusted:
		return "Untrusted"
	case ErrExpired:
		return "Expired"
	case ErrBadSignature:
		return "BadSignature"
	case ErrRevoked:
		return "Revoked"
	case ErrRejected:
		return "Rejected"
	case ErrMismatch:
		return "Mismatch"
	case ErrNoCommonAlgorithm:
		return "NoCommonAlgorithm"
	case ErrNoCommonVersion:
		return "NoCommonVersion"
	case ErrPolicy:
		return "Policy"
	case ErrUnexpectedMessage:
		return "UnexpectedMessage"
	case ErrRoundLimit:
		return "RoundLimit"
	case ErrIncomplete:
		return "Incomplete"
	case ErrDoubleFinalize:
		return "DoubleFinalize"
	case ErrTerminalSession:
		return "TerminalSession"
	case ErrConcurrentUse:
		return "ConcurrentUse"
	case ErrUnsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Kind returns the kind the code belongs to.
func (c Code) Kind() Kind {
	switch c {
	case ErrMalformed, ErrUnreadable, ErrEvicted, ErrBusy, ErrUnknownHandle:
		return KindCredential
	case ErrInvalid:
		return KindCodec
	case ErrUntrusted, ErrExpired, ErrBadSignature, ErrRevoked, ErrRejected,
		ErrMismatch, ErrNoCommonAlgorithm, ErrNoCommonVersion, ErrPolicy:
		return KindValidation
	case ErrUnexpectedMessage, ErrRoundLimit, ErrIncomplete:
		return KindProtocol
	case ErrDoubleFinalize, ErrTerminalSession, ErrConcurrentUse, ErrUnsupported:
		return KindMisuse
	default:
		return KindUnknown
	}
}

// Error is the typed error returned by every trustkit package.
type Error struct {
	Code    Code
	Op      string // operation that failed, e.g. "credential.load"
	Message string // redacted diagnostic, safe to log and show

	cause error
}

// Error implements the error interface. The cause is not included.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s(%s): %s: %s", e.Code.Kind(), e.Code, e.Op, e.Message)
	}
	return fmt.Sprintf("%s(%s): %s", e.Code.Kind(), e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, errors.New(errors.ErrExpired, "", "")) style checks work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Kind returns the kind of the error.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// Scope classifies the reach of the error.
func (e *Error) Scope() Scope {
	switch e.Code.Kind() {
	case KindCredential:
		return ScopeSystem
	case KindMisuse:
		return ScopeUnrecoverable
	default:
		return ScopeSession
	}
}

// New creates an error without a cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error that keeps cause reachable through Unwrap.
func Wrap(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, cause: cause}
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewCredentialError creates a CredentialError with the given code.
func NewCredentialError(code Code, op, message string, cause error) *Error {
	return Wrap(code, op, message, cause)
}

// NewCodecError creates a CodecError{Invalid}.
func NewCodecError(op, message string, cause error) *Error {
	return Wrap(ErrInvalid, op, message, cause)
}

// NewValidationError creates a ValidationError with the given code.
func NewValidationError(code Code, op, message string, cause error) *Error {
	return Wrap(code, op, message, cause)
}

// NewProtocolError creates a ProtocolError{UnexpectedMessage}.
func NewProtocolError(op, message string) *Error {
	return New(ErrUnexpectedMessage, op, message)
}

// NewMisuseError creates a MisuseError with the given code.
func NewMisuseError(code Code, op, message string) *Error {
	return New(code, op, message)
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind()
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return 0
}

// Is reports whether err's chain contains an *Error with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsCredentialError returns true if the error is a CredentialError.
func IsCredentialError(err error) bool {
	return KindOf(err) == KindCredential
}

// IsCodecError returns true if the error is a CodecError.
func IsCodecError(err error) bool {
	return KindOf(err) == KindCodec
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	return KindOf(err) == KindValidation
}

// IsProtocolError returns true if the error is a ProtocolError.
func IsProtocolError(err error) bool {
	return KindOf(err) == KindProtocol
}

// IsMisuseError returns true if the error is a MisuseError.
func IsMisuseError(err error) bool {
	return KindOf(err) == KindMisuse
}

// Redacted returns a diagnostic that is safe to show to a user: the kind,
// code and redacted message of a trustkit error, or a generic string for
// foreign errors whose text cannot be vouched for.
func Redacted(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Error()
	}
	return "internal error"
}
