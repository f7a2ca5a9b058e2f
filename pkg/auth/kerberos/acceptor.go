package kerberos

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/codec"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// handleAPReq verifies the initiator's AP-REQ against the keytab and
// answers with an AP-REP, or with a KRB-ERROR when the request is refused.
func (m *Mechanism) handleAPReq(ctx context.Context, mat *credential.ContextMaterial, inbound []byte) (auth.Result, error) {
	const op = "kerberos.ap_req"

	if len(inbound) == 0 {
		return auth.Result{}, tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "acceptor needs the initiator AP-REQ")
	}
	tokenID, inner, err := unwrapToken(op, inbound)
	if err != nil {
		return auth.Result{}, err
	}
	if tokenID != codec.TokenAPReq {
		return auth.Result{}, tkerrors.Newf(tkerrors.ErrUnexpectedMessage, op, "expected AP-REQ, got token 0x%04x", tokenID)
	}

	var apReq messages.APReq
	if err := apReq.Unmarshal(inner); err != nil {
		return auth.Result{}, tkerrors.NewCodecError(op, "cannot decode AP-REQ", err)
	}

	if !apReq.Ticket.SName.Equal(mat.KeytabName) || apReq.Ticket.Realm != mat.Realm {
		return m.reject(op, mat, errorcode.KRB_AP_ERR_NOT_US, "ticket is for a different service", nil)
	}
	if !types.IsFlagSet(&apReq.APOptions, flags.APOptionMutualRequired) {
		return m.reject(op, mat, errorcode.KDC_ERR_BADOPTION, "mutual authentication is required", nil)
	}

	skew := mat.MaxClockSkew
	if skew <= 0 {
		skew = config.DefaultMaxClockSkew
	}
	settings := service.NewSettings(mat.Keytab,
		service.MaxClockSkew(skew),
		service.DecodePAC(false),
		service.KeytabPrincipal(mat.KeytabService))

	// Covers ticket decryption, the validity window, the authenticator,
	// the client name match, the clock skew and the replay cache.
	ok, creds, err := service.VerifyAPREQ(&apReq, settings)
	if err != nil || !ok {
		code := errorcode.KRB_AP_ERR_MODIFIED
		var krbErr messages.KRBError
		if errors.As(err, &krbErr) {
			code = krbErr.ErrorCode
		}
		return m.reject(op, mat, code, "AP-REQ does not verify", err)
	}

	tkt := apReq.Ticket.DecryptedEncPart
	authn := apReq.Authenticator
	defer clear(tkt.Key.KeyValue)
	defer clear(authn.SubKey.KeyValue)

	ctxKey := tkt.Key
	if len(authn.SubKey.KeyValue) > 0 {
		ctxKey = authn.SubKey
	}

	localSeq, err := m.randomSeq()
	if err != nil {
		return auth.Result{}, err
	}
	part := messages.EncAPRepPart{
		CTime:          authn.CTime,
		Cusec:          authn.Cusec,
		SequenceNumber: int64(localSeq),
	}
	acceptorSubkey := mat.SecurityLevel >= 2
	if acceptorSubkey {
		if part.Subkey, err = m.newSubkey(ctxKey.KeyType); err != nil {
			return auth.Result{}, err
		}
		ctxKey = part.Subkey
		defer clear(part.Subkey.KeyValue)
	}

	tokenID = codec.TokenAPRep
	if mat.RequireConfirmation {
		tokenID = codec.TokenAPRepContinue
	}
	out, err := buildAPRep(part, tkt.Key, tokenID)
	if err != nil {
		return auth.Result{}, err
	}

	fp, err := digest.Sum(m.alg, apReq.Ticket.EncPart.Cipher)
	if err != nil {
		return auth.Result{}, err
	}
	peer := &auth.PeerIdentity{
		Mechanism: config.MechanismNegotiatedContext,
		Name:      creds.CName().PrincipalNameString(),
		Realm:     creds.Realm(),
		Attributes: map[string]string{
			auth.AttrClientRealm:   authn.CRealm,
			auth.AttrEncType:       strconv.Itoa(int(ctxKey.KeyType)),
			auth.AttrSecurityLevel: strconv.Itoa(mat.SecurityLevel),
			auth.AttrConfirmation:  strconv.FormatBool(mat.RequireConfirmation),
			auth.AttrDigest:        m.alg.String(),
		},
		Fingerprint: fp,
		NotAfter:    tkt.EndTime,
	}

	logger.DebugCtx(ctx, "AP-REQ verified",
		logger.Peer(peer.Name),
		logger.KeyRealm, peer.Realm,
		logger.KeyNotAfter, peer.NotAfter)

	if mat.RequireConfirmation {
		th, err := transcript(m.alg, inbound, out)
		if err != nil {
			return auth.Result{}, err
		}
		m.th = th
		m.ctxKey = types.EncryptionKey{KeyType: ctxKey.KeyType, KeyValue: clone(ctxKey.KeyValue)}
		m.acceptorSubkey = acceptorSubkey
		m.peerSeq = uint64(authn.SeqNumber)
		m.localSeq = localSeq
		m.peer = peer
		m.stage = stageAwaitConfirm
		return auth.Result{Out: out, Status: auth.StatusContinue}, nil
	}

	capab, err := newCapability(config.RoleAcceptor, ctxKey, acceptorSubkey, localSeq)
	if err != nil {
		return auth.Result{}, err
	}
	m.stage = stageDone
	return auth.Result{
		Out:        out,
		Status:     auth.StatusComplete,
		Peer:       peer,
		Capability: capab,
	}, nil
}

// handleConfirm verifies the initiator's MIC over the transcript of the
// AP-REQ and the AP-REP.
func (m *Mechanism) handleConfirm(ctx context.Context, inbound []byte) (auth.Result, error) {
	const op = "kerberos.confirm"

	if len(inbound) > 0 && inbound[0] == 0x60 {
		tokenID, inner, err := unwrapToken(op, inbound)
		if err != nil {
			return auth.Result{}, err
		}
		if tokenID == codec.TokenKRBError {
			return auth.Result{}, rejected(op, inner)
		}
		return auth.Result{}, tkerrors.Newf(tkerrors.ErrUnexpectedMessage, op, "expected confirmation MIC, got token 0x%04x", tokenID)
	}

	var mic gssapi.MICToken
	if err := mic.Unmarshal(inbound, false); err != nil {
		return auth.Result{}, tkerrors.NewCodecError(op, "cannot decode confirmation MIC", err)
	}
	if mic.Flags != tokenFlags(config.RoleInitiator, m.acceptorSubkey) {
		return auth.Result{}, tkerrors.New(tkerrors.ErrMismatch, op, "confirmation MIC flags do not match the context")
	}
	if mic.SndSeqNum != m.peerSeq {
		return auth.Result{}, tkerrors.New(tkerrors.ErrMismatch, op, "confirmation MIC carries the wrong sequence number")
	}
	mic.Payload = m.th.Bytes()
	if ok, err := mic.Verify(m.ctxKey, keyusage.GSSAPI_INITIATOR_SIGN); !ok {
		return auth.Result{}, tkerrors.NewValidationError(tkerrors.ErrBadSignature, op, "confirmation MIC does not verify", err)
	}

	capab, err := newCapability(config.RoleAcceptor, m.ctxKey, m.acceptorSubkey, m.localSeq)
	if err != nil {
		return auth.Result{}, err
	}
	capab.window.Accept(m.peerSeq)

	logger.DebugCtx(ctx, "Context confirmation verified", logger.Peer(m.peer.Name))

	peer := m.peer
	m.peer = nil
	m.stage = stageDone
	m.wipe()
	return auth.Result{
		Status:     auth.StatusComplete,
		Peer:       peer,
		Capability: capab,
	}, nil
}

// reject answers a refused AP-REQ with a KRB-ERROR and fails the context.
func (m *Mechanism) reject(op string, mat *credential.ContextMaterial, code int32, msg string, cause error) (auth.Result, error) {
	logger.Debug("AP-REQ rejected",
		logger.Operation(op),
		logger.KeyErrorCode, errorcode.Lookup(code))
	return auth.Result{Out: newKRBErrorToken(mat, code, msg)},
		tkerrors.NewValidationError(tkerrors.ErrRejected, op, msg+": "+errorcode.Lookup(code), cause)
}

// newSubkey generates a random acceptor subkey of keyType.
func (m *Mechanism) newSubkey(keyType int32) (types.EncryptionKey, error) {
	et, err := crypto.GetEtype(keyType)
	if err != nil {
		return types.EncryptionKey{}, tkerrors.NewValidationError(tkerrors.ErrNoCommonAlgorithm, "kerberos.subkey", "unsupported key type", err)
	}
	key := make([]byte, et.GetKeyByteSize())
	if _, err := io.ReadFull(m.rand, key); err != nil {
		return types.EncryptionKey{}, tkerrors.Wrap(tkerrors.ErrUnreadable, "kerberos.subkey", "read random", err)
	}
	return types.EncryptionKey{KeyType: keyType, KeyValue: key}, nil
}

// buildAPRep encrypts part under the ticket session key and frames the
// resulting AP-REP as tokenID.
func buildAPRep(part messages.EncAPRepPart, sessionKey types.EncryptionKey, tokenID uint16) ([]byte, error) {
	const op = "kerberos.ap_rep"

	b, err := asn1.Marshal(part)
	if err != nil {
		return nil, tkerrors.NewCodecError(op, "cannot encode AP-REP encrypted part", err)
	}
	b = asn1tools.AddASNAppTag(b, asnAppTag.EncAPRepPart)

	encPart, err := crypto.GetEncryptedData(b, sessionKey, keyusage.AP_REP_ENCPART, 0)
	clear(b)
	if err != nil {
		return nil, tkerrors.NewValidationError(tkerrors.ErrNoCommonAlgorithm, op, "cannot encrypt AP-REP", err)
	}

	rep := messages.APRep{
		PVNO:    5,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: encPart,
	}
	repBytes, err := asn1.Marshal(rep)
	if err != nil {
		return nil, tkerrors.NewCodecError(op, "cannot encode AP-REP", err)
	}
	repBytes = asn1tools.AddASNAppTag(repBytes, asnAppTag.APREP)

	return codec.WrapMechToken(MechOID, tokenID, repBytes)
}
