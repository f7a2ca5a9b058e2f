package kerberos

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/internal/telemetry"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/codec"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// MechOID is the Kerberos V5 GSS-API mechanism (1.2.840.113554.1.2.2).
var MechOID = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

type stage int

const (
	stageStart stage = iota
	stageAwaitRep
	stageAwaitConfirm
	stageDone
)

// Option configures a Mechanism.
type Option func(*Mechanism)

// WithDigest sets the algorithm of the transcript digest covered by the
// confirmation MIC and of the peer fingerprint.
func WithDigest(alg digest.Algorithm) Option {
	return func(m *Mechanism) {
		if alg.Valid() {
			m.alg = alg
		}
	}
}

// WithRandom sets the source of acceptor subkeys and sequence numbers.
func WithRandom(r io.Reader) Option {
	return func(m *Mechanism) {
		if r != nil {
			m.rand = r
		}
	}
}

// Mechanism drives one side of one Kerberos context establishment. It is
// single-use. The credential is passed to every Advance call and never
// stored; only the values needed by the next step are kept.
type Mechanism struct {
	role  string
	alg   digest.Algorithm
	rand  io.Reader
	stage stage

	// Initiator, between AP-REQ and AP-REP.
	sent   []byte
	ctime  time.Time
	cusec  int
	subkey types.EncryptionKey
	seq    uint64

	// Acceptor, between AP-REP (0x0201) and the confirmation MIC.
	th             digest.Digest
	ctxKey         types.EncryptionKey
	acceptorSubkey bool
	peerSeq        uint64
	localSeq       uint64
	peer           *auth.PeerIdentity
}

var _ auth.Mechanism = (*Mechanism)(nil)

// New creates a negotiated-context mechanism for role.
func New(role string, opts ...Option) (*Mechanism, error) {
	if role != config.RoleInitiator && role != config.RoleAcceptor {
		return nil, tkerrors.Newf(tkerrors.ErrUnsupported, "kerberos.new", "unknown role %q", role)
	}
	m := &Mechanism{
		role: role,
		alg:  digest.Default,
		rand: rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name returns "negotiated-context".
func (m *Mechanism) Name() string { return config.MechanismNegotiatedContext }

// Role returns the side this mechanism plays.
func (m *Mechanism) Role() string { return m.role }

// Advance consumes one inbound token and produces the next one.
func (m *Mechanism) Advance(ctx context.Context, cred *credential.Credential, inbound []byte) (auth.Result, error) {
	const op = "kerberos.advance"

	if cred == nil || cred.Context == nil {
		return auth.Result{}, tkerrors.NewMisuseError(tkerrors.ErrUnsupported, op, "negotiated-context mechanism needs a context credential")
	}
	if cred.Role != m.role {
		return auth.Result{}, tkerrors.NewMisuseError(tkerrors.ErrUnsupported, op, "credential role does not match mechanism role")
	}
	mat := cred.Context
	if m.role == config.RoleAcceptor && mat.Keytab == nil {
		return auth.Result{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "acceptor credential has no keytab", nil)
	}
	if m.role == config.RoleInitiator && len(mat.SessionKey.KeyValue) == 0 {
		return auth.Result{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "initiator credential has no service ticket", nil)
	}

	ctx, span := telemetry.StartMechanismSpan(ctx, config.MechanismNegotiatedContext,
		telemetry.Role(m.role), telemetry.State(m.stage.String()))
	defer span.End()

	var (
		res auth.Result
		err error
	)
	switch {
	case m.stage == stageDone:
		err = tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "context already established")
	case m.role == config.RoleInitiator && m.stage == stageStart:
		res, err = m.sendAPReq(mat, inbound)
	case m.role == config.RoleInitiator && m.stage == stageAwaitRep:
		res, err = m.handleAPRep(ctx, mat, inbound)
	case m.role == config.RoleAcceptor && m.stage == stageStart:
		res, err = m.handleAPReq(ctx, mat, inbound)
	case m.role == config.RoleAcceptor && m.stage == stageAwaitConfirm:
		res, err = m.handleConfirm(ctx, inbound)
	default:
		err = tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "no context step for this state")
	}

	if err != nil {
		m.stage = stageDone
		m.wipe()
		telemetry.RecordError(ctx, err)
		if res.Out == nil {
			res.Out = krbErrorFor(err, mat)
		}
		return res, err
	}
	return res, nil
}

// Close zeroes the subkeys held between steps.
func (m *Mechanism) Close() error {
	m.wipe()
	return nil
}

func (m *Mechanism) wipe() {
	clear(m.subkey.KeyValue)
	m.subkey = types.EncryptionKey{}
	clear(m.ctxKey.KeyValue)
	m.ctxKey = types.EncryptionKey{}
}

func (s stage) String() string {
	switch s {
	case stageStart:
		return "start"
	case stageAwaitRep:
		return "await_ap_rep"
	case stageAwaitConfirm:
		return "await_confirm"
	case stageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ============================================================================
// Helpers
// ============================================================================

// unwrapToken strips the GSS-API framing and checks the mechanism OID.
func unwrapToken(op string, b []byte) (uint16, []byte, error) {
	oid, tokenID, inner, err := codec.UnwrapMechToken(b)
	if err != nil {
		return 0, nil, err
	}
	if !oid.Equal(MechOID) {
		return 0, nil, tkerrors.Newf(tkerrors.ErrInvalid, op, "unexpected mechanism %s", oid.String())
	}
	return tokenID, inner, nil
}

// rejected turns a peer KRB-ERROR into ValidationError{Rejected}.
func rejected(op string, inner []byte) error {
	var krbErr messages.KRBError
	if err := krbErr.Unmarshal(inner); err != nil {
		return tkerrors.NewCodecError(op, "cannot decode KRB-ERROR", err)
	}
	return tkerrors.NewValidationError(tkerrors.ErrRejected, op,
		"peer rejected the context: "+errorcode.Lookup(krbErr.ErrorCode), krbErr)
}

// newKRBErrorToken frames a KRB-ERROR for the peer.
func newKRBErrorToken(mat *credential.ContextMaterial, code int32, text string) []byte {
	sname := mat.KeytabName
	if len(sname.NameString) == 0 {
		sname = mat.ServicePrincipal()
	}
	krbErr := messages.NewKRBError(sname, mat.Realm, code, text)
	b, err := krbErr.Marshal()
	if err != nil {
		logger.Warn("Failed to encode KRB-ERROR", logger.Err(err))
		return nil
	}
	out, err := codec.WrapMechToken(MechOID, codec.TokenKRBError, b)
	if err != nil {
		logger.Warn("Failed to frame KRB-ERROR", logger.Err(err))
		return nil
	}
	return out
}

// krbErrorFor builds the KRB-ERROR sent to the peer when a step fails.
// Misuse and credential failures are local and produce nothing, and a
// KRB-ERROR is never answered with another.
func krbErrorFor(err error, mat *credential.ContextMaterial) []byte {
	kind := tkerrors.KindOf(err)
	if kind == tkerrors.KindMisuse || kind == tkerrors.KindCredential {
		return nil
	}
	if tkerrors.Is(err, tkerrors.ErrRejected) {
		return nil
	}

	code := errorcode.KRB_ERR_GENERIC
	switch tkerrors.CodeOf(err) {
	case tkerrors.ErrBadSignature:
		code = errorcode.KRB_AP_ERR_MODIFIED
	case tkerrors.ErrMismatch:
		code = errorcode.KRB_AP_ERR_MUT_FAIL
	case tkerrors.ErrExpired:
		code = errorcode.KRB_AP_ERR_TKT_EXPIRED
	case tkerrors.ErrUnexpectedMessage:
		code = errorcode.KRB_AP_ERR_MSG_TYPE
	}
	return newKRBErrorToken(mat, code, tkerrors.CodeOf(err).String())
}

// randomSeq returns a 30-bit initial sequence number.
func (m *Mechanism) randomSeq() (uint64, error) {
	var b [4]byte
	if _, err := io.ReadFull(m.rand, b[:]); err != nil {
		return 0, tkerrors.Wrap(tkerrors.ErrUnreadable, "kerberos.seq", "read random", err)
	}
	return uint64(binary.BigEndian.Uint32(b[:]) & 0x3fffffff), nil
}
