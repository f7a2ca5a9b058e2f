package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/marmos91/trustkit/pkg/digest"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Signature contexts keep a Reply signature from being replayed as a Finish
// signature and the other way round.
const (
	contextReply  = "trustkit pki v1 reply"
	contextFinish = "trustkit pki v1 finish"
	keyScheduleID = "trustkit pki v1 key schedule"
)

const keySize = 32

// sessionKeys is the output of the key schedule. Keys are directional:
// the initiator seals with initiatorSeal and the acceptor with acceptorSeal.
type sessionKeys struct {
	finished      []byte
	initiatorSeal []byte
	acceptorSeal  []byte
	initiatorMIC  []byte
	acceptorMIC   []byte
}

func (k *sessionKeys) zero() {
	for _, b := range [][]byte{k.finished, k.initiatorSeal, k.acceptorSeal, k.initiatorMIC, k.acceptorMIC} {
		clear(b)
	}
}

// transcript hashes the concatenation of parts with alg.
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

// newEphemeral returns an X25519 private scalar and its public share.
func newEphemeral(r io.Reader) (priv, share []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(r, priv); err != nil {
		return nil, nil, tkerrors.Wrap(tkerrors.ErrUnreadable, "pki.ephemeral", "read random", err)
	}
	share, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		clear(priv)
		return nil, nil, tkerrors.Wrap(tkerrors.ErrUnreadable, "pki.ephemeral", "derive key share", err)
	}
	return priv, share, nil
}

// deriveKeys runs X25519 against the peer share and expands the result with
// HKDF-SHA256 salted with the transcript digest.
func deriveKeys(priv, peerShare []byte, th digest.Digest) (*sessionKeys, error) {
	const op = "pki.derive"

	shared, err := curve25519.X25519(priv, peerShare)
	if err != nil {
		// Low-order points produce an all-zero secret.
		return nil, tkerrors.Wrap(tkerrors.ErrBadSignature, op, "invalid peer key share", err)
	}
	defer clear(shared)

	out := make([]byte, 5*keySize)
	kdf := hkdf.New(sha256.New, shared, th.Bytes(), []byte(keyScheduleID))
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, tkerrors.Wrap(tkerrors.ErrBadSignature, op, "expand keys", err)
	}
	return &sessionKeys{
		finished:      out[0*keySize : 1*keySize],
		initiatorSeal: out[1*keySize : 2*keySize],
		acceptorSeal:  out[2*keySize : 3*keySize],
		initiatorMIC:  out[3*keySize : 4*keySize],
		acceptorMIC:   out[4*keySize : 5*keySize],
	}, nil
}

// confirm computes the Finish confirmation: keyed BLAKE2b-256 of the
// transcript digest under the finished key.
func confirm(finishedKey []byte, th digest.Digest) ([]byte, error) {
	mac, err := blake2b.New256(finishedKey)
	if err != nil {
		return nil, tkerrors.Wrap(tkerrors.ErrBadSignature, "pki.confirm", "init mac", err)
	}
	mac.Write(th.Bytes())
	return mac.Sum(nil), nil
}

func verifyConfirm(finishedKey []byte, th digest.Digest, got []byte) error {
	want, err := confirm(finishedKey, th)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return tkerrors.New(tkerrors.ErrBadSignature, "pki.confirm", "finish confirmation does not match")
	}
	return nil
}

// signedMessage binds the transcript digest to a signature context and the
// digest algorithm.
func signedMessage(context string, th digest.Digest) []byte {
	msg := make([]byte, 0, len(context)+1+len(th.Algorithm().String())+1+th.Algorithm().Size())
	msg = append(msg, context...)
	msg = append(msg, 0)
	msg = append(msg, th.Algorithm().String()...)
	msg = append(msg, 0)
	return append(msg, th.Bytes()...)
}

// sign signs the transcript with Ed25519, ECDSA (SHA-256) or RSA-PSS
// (SHA-256), depending on the key.
func sign(r io.Reader, signer crypto.Signer, context string, th digest.Digest) ([]byte, error) {
	const op = "pki.sign"
	msg := signedMessage(context, th)

	var (
		sig []byte
		err error
	)
	switch signer.Public().(type) {
	case ed25519.PublicKey:
		sig, err = signer.Sign(r, msg, crypto.Hash(0))
	case *ecdsa.PublicKey:
		h := sha256.Sum256(msg)
		sig, err = signer.Sign(r, h[:], crypto.SHA256)
	case *rsa.PublicKey:
		h := sha256.Sum256(msg)
		sig, err = signer.Sign(r, h[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256})
	default:
		return nil, tkerrors.NewCredentialError(tkerrors.ErrMalformed, op, "unsupported private key type", nil)
	}
	if err != nil {
		return nil, tkerrors.NewCredentialError(tkerrors.ErrUnreadable, op, "signing failed", err)
	}
	return sig, nil
}

// verify checks a signature made by sign with the public key of the peer
// leaf certificate.
func verify(pub crypto.PublicKey, context string, th digest.Digest, sig []byte) error {
	const op = "pki.verify_signature"
	msg := signedMessage(context, th)

	ok := false
	switch k := pub.(type) {
	case ed25519.PublicKey:
		ok = ed25519.Verify(k, msg, sig)
	case *ecdsa.PublicKey:
		h := sha256.Sum256(msg)
		ok = ecdsa.VerifyASN1(k, h[:], sig)
	case *rsa.PublicKey:
		h := sha256.Sum256(msg)
		ok = rsa.VerifyPSS(k, crypto.SHA256, h[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}) == nil
	default:
		return tkerrors.New(tkerrors.ErrPolicy, op, "unsupported peer key type")
	}
	if !ok {
		return tkerrors.New(tkerrors.ErrBadSignature, op, "handshake signature does not verify")
	}
	return nil
}
