package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"io"
	"time"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/internal/telemetry"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/codec"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

type stage int

const (
	stageStart stage = iota
	stageAwaitReply
	stageAwaitFinish
	stageDone
)

// Option configures a Mechanism.
type Option func(*Mechanism)

// WithDigests sets the digest algorithm preference list. An empty list keeps
// the default.
func WithDigests(algs ...digest.Algorithm) Option {
	return func(m *Mechanism) {
		if len(algs) > 0 {
			m.digests = append([]digest.Algorithm(nil), algs...)
		}
	}
}

// WithVersions sets the protocol version range offered or accepted. An
// invalid range keeps the default.
func WithVersions(r codec.VersionRange) Option {
	return func(m *Mechanism) {
		if r.Valid() {
			m.versions = r
		}
	}
}

// WithClock sets the time source used for certificate validity checks.
func WithClock(now func() time.Time) Option {
	return func(m *Mechanism) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRandom sets the source of nonces and ephemeral keys.
func WithRandom(r io.Reader) Option {
	return func(m *Mechanism) {
		if r != nil {
			m.rand = r
		}
	}
}

// Mechanism drives one side of one certificate handshake. It is single-use
// and holds only ephemeral state between steps: the credential is passed to
// every Advance call and never stored.
type Mechanism struct {
	role     string
	digests  []digest.Algorithm
	versions codec.VersionRange
	now      func() time.Time
	rand     io.Reader

	stage stage

	// Handshake state kept between steps.
	ephemeral []byte
	hello     []byte
	alg       digest.Algorithm
	peerLeaf  *x509.Certificate
	peer      *auth.PeerIdentity
	keys      *sessionKeys
	final     digest.Digest
}

var _ auth.Mechanism = (*Mechanism)(nil)

// New creates a certificate mechanism for role ("initiator" or "acceptor").
func New(role string, opts ...Option) (*Mechanism, error) {
	if role != config.RoleInitiator && role != config.RoleAcceptor {
		return nil, tkerrors.Newf(tkerrors.ErrUnsupported, "pki.new", "unknown role %q", role)
	}
	m := &Mechanism{
		role:     role,
		digests:  []digest.Algorithm{digest.Default},
		versions: codec.SupportedVersions,
		now:      time.Now,
		rand:     rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name returns "pki".
func (m *Mechanism) Name() string { return config.MechanismPKI }

// Role returns the side this mechanism plays.
func (m *Mechanism) Role() string { return m.role }

// Advance consumes one inbound message and produces the next one.
func (m *Mechanism) Advance(ctx context.Context, cred *credential.Credential, inbound []byte) (auth.Result, error) {
	const op = "pki.advance"

	if cred == nil || cred.PKI == nil {
		return auth.Result{}, tkerrors.NewMisuseError(tkerrors.ErrUnsupported, op, "pki mechanism needs a pki credential")
	}
	if cred.Role != m.role {
		return auth.Result{}, tkerrors.NewMisuseError(tkerrors.ErrUnsupported, op, "credential role does not match mechanism role")
	}
	if cred.PKI.Signer == nil || len(cred.PKI.Chain) == 0 {
		return auth.Result{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "pki credential has no key or certificate", nil)
	}

	ctx, span := telemetry.StartMechanismSpan(ctx, config.MechanismPKI,
		telemetry.Role(m.role), telemetry.State(m.stage.String()))
	defer span.End()

	var (
		res auth.Result
		err error
	)
	switch {
	case m.stage == stageDone:
		err = tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "handshake already complete")
	case m.role == config.RoleInitiator && m.stage == stageStart:
		res, err = m.sendHello(cred.PKI, inbound)
	case m.role == config.RoleInitiator && m.stage == stageAwaitReply:
		res, err = m.handleReply(ctx, cred.PKI, inbound)
	case m.role == config.RoleAcceptor && m.stage == stageStart:
		res, err = m.handleHello(ctx, cred.PKI, inbound)
	case m.role == config.RoleAcceptor && m.stage == stageAwaitFinish:
		res, err = m.handleFinish(ctx, inbound)
	default:
		err = tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "no handshake step for this state")
	}

	if err != nil {
		m.stage = stageDone
		m.wipe()
		telemetry.RecordError(ctx, err)
		if res.Out == nil {
			res.Out = alertFor(err)
		}
		return res, err
	}
	return res, nil
}

// Close zeroes the ephemeral key and the derived session keys. The
// capability handed to the session owns its own copy of the keys.
func (m *Mechanism) Close() error {
	m.wipe()
	return nil
}

func (m *Mechanism) wipe() {
	clear(m.ephemeral)
	m.ephemeral = nil
	if m.keys != nil {
		m.keys.zero()
		m.keys = nil
	}
}

func (s stage) String() string {
	switch s {
	case stageStart:
		return "start"
	case stageAwaitReply:
		return "await_reply"
	case stageAwaitFinish:
		return "await_finish"
	case stageDone:
		return "done"
	default:
		return "unknown"
	}
}

// alertFor builds the Alert sent to the peer when a step fails. Misuse and
// credential failures are local problems and produce no alert.
func alertFor(err error) []byte {
	kind := tkerrors.KindOf(err)
	if kind == tkerrors.KindMisuse || kind == tkerrors.KindCredential {
		return nil
	}
	// Never answer an alert with an alert.
	if tkerrors.Is(err, tkerrors.ErrRejected) {
		return nil
	}

	code := codec.AlertHandshakeFailure
	switch tkerrors.CodeOf(err) {
	case tkerrors.ErrExpired:
		code = codec.AlertCertExpired
	case tkerrors.ErrRevoked:
		code = codec.AlertCertRevoked
	case tkerrors.ErrUntrusted:
		code = codec.AlertUnknownCA
	case tkerrors.ErrPolicy:
		code = codec.AlertBadCertificate
	case tkerrors.ErrInvalid:
		code = codec.AlertDecodeError
	case tkerrors.ErrBadSignature:
		code = codec.AlertDecryptError
	case tkerrors.ErrNoCommonAlgorithm:
		code = codec.AlertNoCommonDigest
	case tkerrors.ErrNoCommonVersion:
		code = codec.AlertProtocolVersion
	case tkerrors.ErrUnexpectedMessage:
		code = codec.AlertUnexpected
	}

	desc := tkerrors.CodeOf(err).String()
	out, encErr := codec.Encode(codec.Alert{Code: code, Description: desc})
	if encErr != nil {
		logger.Warn("Failed to encode alert", logger.Err(encErr))
		return nil
	}
	return out
}

// rejectIfAlert turns a peer Alert into ValidationError{Rejected}.
func rejectIfAlert(op string, inbound []byte) error {
	tag, err := codec.PeekTag(inbound)
	if err != nil || tag != codec.TagAlert {
		return nil
	}
	alert, err := codec.Decode[codec.Alert](inbound)
	if err != nil {
		return err
	}
	return tkerrors.Newf(tkerrors.ErrRejected, op, "peer sent alert %d", alert.Code)
}
