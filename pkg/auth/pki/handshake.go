package pki

import (
	"context"
	"io"

	"github.com/marmos91/trustkit/internal/logger"
	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/codec"
	"github.com/marmos91/trustkit/pkg/credential"
	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// ============================================================================
// Initiator
// ============================================================================

// sendHello opens the handshake.
func (m *Mechanism) sendHello(mat *credential.PKIMaterial, inbound []byte) (auth.Result, error) {
	const op = "pki.hello"

	if len(inbound) != 0 {
		return auth.Result{}, tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "initiator expects no message before Hello")
	}

	nonce, err := m.nonce()
	if err != nil {
		return auth.Result{}, err
	}
	priv, share, err := newEphemeral(m.rand)
	if err != nil {
		return auth.Result{}, err
	}

	offered := make([]int, len(m.digests))
	for i, a := range m.digests {
		offered[i] = int(a)
	}

	hello, err := codec.Encode(codec.Hello{
		Versions: m.versions,
		Nonce:    nonce,
		KeyShare: share,
		Digests:  offered,
		Chain:    rawChain(mat),
	})
	if err != nil {
		clear(priv)
		return auth.Result{}, err
	}

	m.ephemeral = priv
	m.hello = hello
	m.stage = stageAwaitReply
	return auth.Result{Out: hello, Status: auth.StatusContinue}, nil
}

// handleReply validates the acceptor, derives the session keys and sends
// Finish.
func (m *Mechanism) handleReply(ctx context.Context, mat *credential.PKIMaterial, inbound []byte) (auth.Result, error) {
	const op = "pki.reply"

	if err := rejectIfAlert(op, inbound); err != nil {
		return auth.Result{}, err
	}
	reply, err := codec.Decode[codec.Reply](inbound)
	if err != nil {
		return auth.Result{}, err
	}

	if !m.versions.Contains(reply.Version) {
		return auth.Result{}, tkerrors.Newf(tkerrors.ErrMismatch, op,
			"acceptor chose version %d outside offered range %s", reply.Version, m.versions)
	}

	// The acceptor must pick from what was offered, otherwise the
	// transcript could be computed with an algorithm we never agreed to.
	alg := digest.Algorithm(reply.Digest)
	if !alg.Valid() || !digest.Contains(m.digests, alg) {
		return auth.Result{}, tkerrors.Newf(tkerrors.ErrMismatch, op, "acceptor chose digest %d which was not offered", reply.Digest)
	}
	m.alg = alg

	peer, err := verifyChain(mat, reply.Chain, alg, m.now())
	if err != nil {
		return auth.Result{}, err
	}

	unsigned, err := reply.SigningBytes()
	if err != nil {
		return auth.Result{}, err
	}
	th1, err := transcript(alg, m.hello, unsigned)
	if err != nil {
		return auth.Result{}, err
	}
	if err := verify(peer.leaf.PublicKey, contextReply, th1, reply.Signature); err != nil {
		return auth.Result{}, err
	}

	th2, err := transcript(alg, m.hello, inbound)
	if err != nil {
		return auth.Result{}, err
	}
	keys, err := deriveKeys(m.ephemeral, reply.KeyShare, th2)
	if err != nil {
		return auth.Result{}, err
	}
	m.keys = keys
	clear(m.ephemeral)
	m.ephemeral = nil

	sig, err := sign(m.rand, mat.Signer, contextFinish, th2)
	if err != nil {
		return auth.Result{}, err
	}
	mac, err := confirm(keys.finished, th2)
	if err != nil {
		return auth.Result{}, err
	}
	finish, err := codec.Encode(codec.Finish{Signature: sig, Confirm: mac})
	if err != nil {
		return auth.Result{}, err
	}

	capability, err := newCapability(m.role, keys)
	if err != nil {
		return auth.Result{}, err
	}

	logger.DebugCtx(ctx, "Acceptor certificate validated",
		logger.Peer(peer.identity.Name),
		logger.Algorithm(alg.String()))

	m.stage = stageDone
	return auth.Result{
		Out:        finish,
		Status:     auth.StatusComplete,
		Peer:       peer.identity,
		Capability: capability,
	}, nil
}

// ============================================================================
// Acceptor
// ============================================================================

// handleHello validates the initiator, negotiates the digest and answers
// with a signed Reply.
func (m *Mechanism) handleHello(ctx context.Context, mat *credential.PKIMaterial, inbound []byte) (auth.Result, error) {
	const op = "pki.hello"

	if len(inbound) == 0 {
		return auth.Result{}, tkerrors.New(tkerrors.ErrUnexpectedMessage, op, "acceptor needs the initiator Hello")
	}
	if err := rejectIfAlert(op, inbound); err != nil {
		return auth.Result{}, err
	}
	hello, err := codec.Decode[codec.Hello](inbound)
	if err != nil {
		return auth.Result{}, err
	}

	version, ok := m.versions.Highest(hello.Versions)
	if !ok {
		return auth.Result{}, tkerrors.Newf(tkerrors.ErrNoCommonVersion, op,
			"initiator offered versions %s, acceptor supports %s", hello.Versions, m.versions)
	}

	offered := make([]digest.Algorithm, 0, len(hello.Digests))
	for _, d := range hello.Digests {
		if a := digest.Algorithm(d); a.Valid() {
			offered = append(offered, a)
		}
	}
	alg, err := digest.Negotiate(m.digests, offered)
	if err != nil {
		return auth.Result{}, err
	}
	m.alg = alg

	peer, err := verifyChain(mat, hello.Chain, alg, m.now())
	if err != nil {
		return auth.Result{}, err
	}

	nonce, err := m.nonce()
	if err != nil {
		return auth.Result{}, err
	}
	priv, share, err := newEphemeral(m.rand)
	if err != nil {
		return auth.Result{}, err
	}
	defer clear(priv)

	reply := codec.Reply{
		Version:  version,
		Nonce:    nonce,
		KeyShare: share,
		Digest:   int(alg),
		Chain:    rawChain(mat),
	}
	unsigned, err := reply.SigningBytes()
	if err != nil {
		return auth.Result{}, err
	}
	th1, err := transcript(alg, inbound, unsigned)
	if err != nil {
		return auth.Result{}, err
	}
	if reply.Signature, err = sign(m.rand, mat.Signer, contextReply, th1); err != nil {
		return auth.Result{}, err
	}
	out, err := codec.Encode(reply)
	if err != nil {
		return auth.Result{}, err
	}

	th2, err := transcript(alg, inbound, out)
	if err != nil {
		return auth.Result{}, err
	}
	keys, err := deriveKeys(priv, hello.KeyShare, th2)
	if err != nil {
		return auth.Result{}, err
	}

	logger.DebugCtx(ctx, "Initiator certificate validated",
		logger.Peer(peer.identity.Name),
		logger.Algorithm(alg.String()),
		"version", version)

	m.keys = keys
	m.final = th2
	m.peerLeaf = peer.leaf
	m.peer = peer.identity
	m.stage = stageAwaitFinish
	return auth.Result{Out: out, Status: auth.StatusContinue}, nil
}

// handleFinish checks the initiator's signature and key confirmation.
func (m *Mechanism) handleFinish(ctx context.Context, inbound []byte) (auth.Result, error) {
	const op = "pki.finish"

	if err := rejectIfAlert(op, inbound); err != nil {
		return auth.Result{}, err
	}
	finish, err := codec.Decode[codec.Finish](inbound)
	if err != nil {
		return auth.Result{}, err
	}
	if err := verify(m.peerLeaf.PublicKey, contextFinish, m.final, finish.Signature); err != nil {
		return auth.Result{}, err
	}
	if err := verifyConfirm(m.keys.finished, m.final, finish.Confirm); err != nil {
		return auth.Result{}, err
	}

	capability, err := newCapability(m.role, m.keys)
	if err != nil {
		return auth.Result{}, err
	}

	logger.DebugCtx(ctx, "Key confirmation verified", logger.Peer(m.peer.Name))

	m.stage = stageDone
	return auth.Result{
		Status:     auth.StatusComplete,
		Peer:       m.peer,
		Capability: capability,
	}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func (m *Mechanism) nonce() ([]byte, error) {
	n := make([]byte, codec.NonceSize)
	if _, err := io.ReadFull(m.rand, n); err != nil {
		return nil, tkerrors.Wrap(tkerrors.ErrUnreadable, "pki.nonce", "read random", err)
	}
	return n, nil
}

// rawChain returns the DER certificates the local side presents.
func rawChain(mat *credential.PKIMaterial) [][]byte {
	out := make([][]byte, len(mat.Chain))
	for i, c := range mat.Chain {
		out[i] = c.Raw
	}
	return out
}
