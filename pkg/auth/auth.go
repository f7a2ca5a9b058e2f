package auth

import (
	"context"

	"github.com/marmos91/trustkit/pkg/credential"
)

// Status is what a driver reports after consuming one inbound message.
type Status int

const (
	// StatusContinue means the driver expects another inbound message.
	StatusContinue Status = iota + 1

	// StatusComplete means the handshake finished on this side.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Advance call.
type Result struct {
	// Out is the message to send to the peer, nil when there is none.
	Out []byte

	Status Status

	// Peer and Capability are set only with StatusComplete.
	Peer       *PeerIdentity
	Capability Capability
}

// Mechanism is a handshake driver.
//
// The set of drivers is closed: pki and kerberos. A Session depends only on
// this interface. Advance consumes zero or one inbound message and produces
// zero or one outbound message. The credential passed to Advance is valid
// for the duration of the call only and must not be retained.
//
// On failure a driver may return a non-nil Result.Out together with the
// error: an alert the caller should deliver to the peer.
//
// Drivers are not safe for concurrent use; the owning Session serializes
// calls. A driver that holds ephemeral secrets also implements io.Closer.
type Mechanism interface {
	// Name returns the mechanism name ("pki", "negotiated-context").
	Name() string

	// Role returns "initiator" or "acceptor".
	Role() string

	// Advance moves the handshake forward by one message.
	Advance(ctx context.Context, cred *credential.Credential, inbound []byte) (Result, error)
}

// Capability protects messages on an established session.
//
// Outbound tokens carry an increasing sequence number. Inbound tokens are
// checked against a replay window, so a token is accepted at most once.
// Implementations are safe for concurrent use.
type Capability interface {
	// MIC returns an integrity token over msg.
	MIC(msg []byte) ([]byte, error)

	// VerifyMIC checks a token produced by the peer's MIC over msg.
	VerifyMIC(msg, token []byte) error

	// Seal encrypts and integrity-protects plaintext.
	Seal(plaintext []byte) ([]byte, error)

	// Unseal reverses the peer's Seal.
	Unseal(token []byte) ([]byte, error)

	// Close destroys the session keys. Later calls fail with a MisuseError.
	Close() error
}
