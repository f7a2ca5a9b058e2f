package kerberos

import (
	"context"
	"strconv"
	"time"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/codec"
	"github.com/marmos91/trustkit/pkg/config"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// sendAPReq builds the AP-REQ from the service ticket. Mutual
// authentication is always requested and the authenticator carries a
// fresh subkey and initial sequence number.
func (m *Mechanism) sendAPReq(mat *credential.ContextMaterial, inbound []byte) (auth.Result, error) {
	const op = "kerberos.ap_req"

	if len(inbound) != 0 {
		return auth.Result{}, tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "initiator expects no token before AP-REQ")
	}

	et, err := crypto.GetEtype(mat.SessionKey.KeyType)
	if err != nil {
		return auth.Result{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "unsupported session key type", err)
	}

	authn, err := types.NewAuthenticator(mat.ClientRealm, mat.Client)
	if err != nil {
		return auth.Result{}, tkerrors.Wrap(tkerrors.ErrUnreadable, op, "create authenticator", err)
	}
	if err := authn.GenerateSeqNumberAndSubKey(mat.SessionKey.KeyType, et.GetKeyByteSize()); err != nil {
		return auth.Result{}, tkerrors.Wrap(tkerrors.ErrUnreadable, op, "generate subkey", err)
	}

	apReq, err := messages.NewAPReq(mat.Ticket, mat.SessionKey, authn)
	if err != nil {
		clear(authn.SubKey.KeyValue)
		return auth.Result{}, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "cannot build AP-REQ", err)
	}
	types.SetFlag(&apReq.APOptions, flags.APOptionMutualRequired)

	b, err := apReq.Marshal()
	if err != nil {
		clear(authn.SubKey.KeyValue)
		return auth.Result{}, tkerrors.NewCodecError(op, "cannot encode AP-REQ", err)
	}
	out, err := codec.WrapMechToken(MechOID, codec.TokenAPReq, b)
	if err != nil {
		clear(authn.SubKey.KeyValue)
		return auth.Result{}, err
	}

	m.sent = out
	m.ctime = authn.CTime
	m.cusec = authn.Cusec
	m.subkey = authn.SubKey
	m.seq = uint64(authn.SeqNumber)
	m.stage = stageAwaitRep
	return auth.Result{Out: out, Status: auth.StatusContinue}, nil
}

// handleAPRep processes the acceptor's answer: an AP-REP that completes
// the context, an AP-REP asking for confirmation, or a KRB-ERROR.
func (m *Mechanism) handleAPRep(ctx context.Context, mat *credential.ContextMaterial, inbound []byte) (auth.Result, error) {
	const op = "kerberos.ap_rep"

	tokenID, inner, err := unwrapToken(op, inbound)
	if err != nil {
		return auth.Result{}, err
	}
	switch tokenID {
	case codec.TokenKRBError:
		return auth.Result{}, rejected(op, inner)
	case codec.TokenAPRep, codec.TokenAPRepContinue:
	default:
		return auth.Result{}, tkerrors.Newf(tkerrors.ErrUnexpectedMessage, op, "unexpected token 0x%04x", tokenID)
	}

	var rep messages.APRep
	if err := rep.Unmarshal(inner); err != nil {
		return auth.Result{}, tkerrors.NewCodecError(op, "cannot decode AP-REP", err)
	}
	plain, err := crypto.DecryptEncPart(rep.EncPart, mat.SessionKey, keyusage.AP_REP_ENCPART)
	if err != nil {
		return auth.Result{}, tkerrors.NewValidationError(tkerrors.ErrBadSignature, op, "AP-REP does not decrypt under the session key", err)
	}
	var part messages.EncAPRepPart
	if err := part.Unmarshal(plain); err != nil {
		return auth.Result{}, tkerrors.NewCodecError(op, "cannot decode AP-REP encrypted part", err)
	}

	// The acceptor proves it read the authenticator by echoing its time.
	// The wire encoding carries whole seconds only.
	if !part.CTime.Equal(m.ctime.Truncate(time.Second)) || part.Cusec != m.cusec {
		clear(part.Subkey.KeyValue)
		return auth.Result{}, tkerrors.New(tkerrors.ErrMismatch, op, "AP-REP does not echo the authenticator time")
	}

	ctxKey := m.subkey
	acceptorSubkey := len(part.Subkey.KeyValue) > 0
	if acceptorSubkey {
		ctxKey = part.Subkey
	}
	if mat.SecurityMode == config.SecurityRequired && mat.SecurityLevel >= 2 && !acceptorSubkey {
		return auth.Result{}, tkerrors.Newf(tkerrors.ErrPolicy, op, "security level %d requires an acceptor subkey", mat.SecurityLevel)
	}

	confirmation := tokenID == codec.TokenAPRepContinue
	res := auth.Result{Status: auth.StatusComplete}
	sendSeq := m.seq
	if confirmation {
		th, err := transcript(m.alg, m.sent, inbound)
		if err != nil {
			return auth.Result{}, err
		}
		mic := gssapi.MICToken{
			Flags:     tokenFlags(config.RoleInitiator, acceptorSubkey),
			SndSeqNum: m.seq,
			Payload:   th.Bytes(),
		}
		if err := mic.SetChecksum(ctxKey, keyusage.GSSAPI_INITIATOR_SIGN); err != nil {
			return auth.Result{}, tkerrors.NewValidationError(tkerrors.ErrNoCommonAlgorithm, op, "cannot compute confirmation MIC", err)
		}
		if res.Out, err = mic.Marshal(); err != nil {
			return auth.Result{}, tkerrors.NewCodecError(op, "cannot encode confirmation MIC", err)
		}
		sendSeq++
	}

	capab, err := newCapability(config.RoleInitiator, ctxKey, acceptorSubkey, sendSeq)
	clear(part.Subkey.KeyValue)
	if err != nil {
		return auth.Result{}, err
	}

	fp, err := digest.Sum(m.alg, mat.Ticket.EncPart.Cipher)
	if err != nil {
		_ = capab.Close()
		return auth.Result{}, err
	}
	peer := &auth.PeerIdentity{
		Mechanism: config.MechanismNegotiatedContext,
		Name:      mat.ServicePrincipal().PrincipalNameString(),
		Realm:     mat.Realm,
		Attributes: map[string]string{
			auth.AttrEncType:       strconv.Itoa(int(ctxKey.KeyType)),
			auth.AttrSecurityLevel: strconv.Itoa(mat.SecurityLevel),
			auth.AttrConfirmation:  strconv.FormatBool(confirmation),
			auth.AttrDigest:        m.alg.String(),
		},
		Fingerprint: fp,
		NotAfter:    mat.EndTime,
	}

	logger.DebugCtx(ctx, "Acceptor authenticated",
		logger.Peer(peer.Name),
		logger.KeyRealm, peer.Realm,
		logger.Algorithm(m.alg.String()))

	m.sent = nil
	m.stage = stageDone
	m.wipe()
	res.Peer = peer
	res.Capability = capab
	return res, nil
}

// transcript hashes the concatenation of the context tokens with alg.
func transcript(alg digest.Algorithm, parts ...[]byte) (digest.Digest, error) {
	h, err := digest.New(alg)
	if err != nil {
		return digest.Digest{}, err
	}
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Finalize()
}
