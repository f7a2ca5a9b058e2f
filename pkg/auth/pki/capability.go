package pki

import (
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/config"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Token layout:
//
//	MIC:  seq(8) || BLAKE2b-256(micKey, seq || message)
//	Seal: seq(8) || ChaCha20-Poly1305(sealKey, nonce = 0^4 || seq, aad = seq)
const (
	seqSize = 8
	micSize = blake2b.Size256
)

// capability protects messages after a certificate handshake. Each
// direction has its own keys so sequence-derived nonces never repeat under
// one key.
type capability struct {
	mu      sync.Mutex
	closed  bool
	sendSeq uint64

	sendSeal cipher.AEAD
	recvSeal cipher.AEAD
	sendMIC  []byte
	recvMIC  []byte

	// Seal keys are held so Close can zero them.
	sealKeys [][]byte

	window *auth.SeqWindow
}

var _ auth.Capability = (*capability)(nil)

// newCapability copies the directional keys for role out of keys.
func newCapability(role string, keys *sessionKeys) (*capability, error) {
	sendSealKey, recvSealKey := keys.initiatorSeal, keys.acceptorSeal
	sendMIC, recvMIC := keys.initiatorMIC, keys.acceptorMIC
	if role == config.RoleAcceptor {
		sendSealKey, recvSealKey = recvSealKey, sendSealKey
		sendMIC, recvMIC = recvMIC, sendMIC
	}

	c := &capability{
		sendMIC:  clone(sendMIC),
		recvMIC:  clone(recvMIC),
		sealKeys: [][]byte{clone(sendSealKey), clone(recvSealKey)},
		window:   auth.NewSeqWindow(auth.DefaultWindowSize),
	}
	var err error
	if c.sendSeal, err = chacha20poly1305.New(c.sealKeys[0]); err != nil {
		return nil, tkerrors.Wrap(tkerrors.ErrUnsupported, "pki.capability", "init seal key", err)
	}
	if c.recvSeal, err = chacha20poly1305.New(c.sealKeys[1]); err != nil {
		return nil, tkerrors.Wrap(tkerrors.ErrUnsupported, "pki.capability", "init seal key", err)
	}
	return c, nil
}

// MIC returns an integrity token for msg.
func (c *capability) MIC(msg []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.nextSeq("pki.mic")
	if err != nil {
		return nil, err
	}
	tag, err := micTag(c.sendMIC, seq, msg)
	if err != nil {
		return nil, err
	}
	return append(seq, tag...), nil
}

// VerifyMIC checks a token produced by the peer's MIC over msg. Each token
// is accepted once.
func (c *capability) VerifyMIC(msg, token []byte) error {
	const op = "pki.verify_mic"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return destroyed(op)
	}
	if len(token) != seqSize+micSize {
		return tkerrors.Newf(tkerrors.ErrInvalid, op, "MIC token must be %d bytes", seqSize+micSize)
	}
	seq := token[:seqSize]
	want, err := micTag(c.recvMIC, seq, msg)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, token[seqSize:]) != 1 {
		return tkerrors.New(tkerrors.ErrBadSignature, op, "MIC does not verify")
	}
	return c.accept(op, seq)
}

// Seal encrypts and authenticates plaintext.
func (c *capability) Seal(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.nextSeq("pki.seal")
	if err != nil {
		return nil, err
	}
	return c.sendSeal.Seal(clone(seq), nonceFor(seq), plaintext, seq), nil
}

// Unseal reverses the peer's Seal. Each token is accepted once.
func (c *capability) Unseal(token []byte) ([]byte, error) {
	const op = "pki.unseal"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, destroyed(op)
	}
	if len(token) < seqSize+c.recvSeal.Overhead() {
		return nil, tkerrors.New(tkerrors.ErrInvalid, op, "sealed token too short")
	}
	seq := token[:seqSize]
	plaintext, err := c.recvSeal.Open(nil, nonceFor(seq), token[seqSize:], seq)
	if err != nil {
		return nil, tkerrors.NewValidationError(tkerrors.ErrBadSignature, op, "sealed token does not authenticate", err)
	}
	if err := c.accept(op, seq); err != nil {
		clear(plaintext)
		return nil, err
	}
	return plaintext, nil
}

// Close zeroes the keys. Every later call fails.
func (c *capability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	clear(c.sendMIC)
	clear(c.recvMIC)
	for _, k := range c.sealKeys {
		clear(k)
	}
	c.sendSeal, c.recvSeal = nil, nil
	return nil
}

// nextSeq reserves the next outbound sequence number. Must be called with
// c.mu held.
func (c *capability) nextSeq(op string) ([]byte, error) {
	if c.closed {
		return nil, destroyed(op)
	}
	seq := make([]byte, seqSize, seqSize+micSize)
	binary.BigEndian.PutUint64(seq, c.sendSeq)
	c.sendSeq++
	return seq, nil
}

func (c *capability) accept(op string, seq []byte) error {
	if !c.window.Accept(binary.BigEndian.Uint64(seq)) {
		return tkerrors.New(tkerrors.ErrMismatch, op, "replayed or stale sequence number")
	}
	return nil
}

func destroyed(op string) error {
	return tkerrors.New(tkerrors.ErrTerminalSession, op, "capability has been destroyed")
}

func micTag(key, seq, msg []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, tkerrors.Wrap(tkerrors.ErrUnsupported, "pki.mic", "init mac", err)
	}
	h.Write(seq)
	h.Write(msg)
	return h.Sum(nil), nil
}

func nonceFor(seq []byte) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[chacha20poly1305.NonceSize-seqSize:], seq)
	return nonce
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
