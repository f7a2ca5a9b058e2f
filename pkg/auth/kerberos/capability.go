package kerberos

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/crypto/etype"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/trustkit/pkg/auth"
	"github.com/marmos91/trustkit/pkg/config"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Wrap token header (RFC 4121 section 4.2.6.2):
//
//	05 04 | flags | FF | EC(2) | RRC(2) | SND_SEQ(8)
const wrapHeaderLen = 16

// tokenFlags returns the per-message token flags for tokens sent by role.
func tokenFlags(role string, acceptorSubkey bool) byte {
	var f byte
	if role == config.RoleAcceptor {
		f |= gssapi.MICTokenFlagSentByAcceptor
	}
	if acceptorSubkey {
		f |= gssapi.MICTokenFlagAcceptorSubkey
	}
	return f
}

// capability protects messages on an established Kerberos context with
// RFC 4121 MIC and sealed wrap tokens under the context key.
type capability struct {
	mu      sync.Mutex
	closed  bool
	sendSeq uint64

	key   types.EncryptionKey
	etype etype.EType

	sendFlags byte
	recvFlags byte

	signUsage, verifyUsage uint32
	sealUsage, unsealUsage uint32

	window *auth.SeqWindow
}

var _ auth.Capability = (*capability)(nil)

// newCapability copies key. Outbound sequence numbers start at sendSeq.
func newCapability(role string, key types.EncryptionKey, acceptorSubkey bool, sendSeq uint64) (*capability, error) {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, tkerrors.NewValidationError(tkerrors.ErrNoCommonAlgorithm, "kerberos.capability", "unsupported context key type", err)
	}

	peer := config.RoleAcceptor
	if role == config.RoleAcceptor {
		peer = config.RoleInitiator
	}
	c := &capability{
		sendSeq:     sendSeq,
		key:         types.EncryptionKey{KeyType: key.KeyType, KeyValue: clone(key.KeyValue)},
		etype:       et,
		sendFlags:   tokenFlags(role, acceptorSubkey),
		recvFlags:   tokenFlags(peer, acceptorSubkey),
		signUsage:   keyusage.GSSAPI_INITIATOR_SIGN,
		verifyUsage: keyusage.GSSAPI_ACCEPTOR_SIGN,
		sealUsage:   keyusage.GSSAPI_INITIATOR_SEAL,
		unsealUsage: keyusage.GSSAPI_ACCEPTOR_SEAL,
		window:      auth.NewSeqWindow(auth.DefaultWindowSize),
	}
	if role == config.RoleAcceptor {
		c.signUsage, c.verifyUsage = c.verifyUsage, c.signUsage
		c.sealUsage, c.unsealUsage = c.unsealUsage, c.sealUsage
	}
	return c, nil
}

// MIC returns an RFC 4121 MIC token over msg.
func (c *capability) MIC(msg []byte) ([]byte, error) {
	const op = "kerberos.mic"

	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.nextSeq(op)
	if err != nil {
		return nil, err
	}
	mt := gssapi.MICToken{
		Flags:     c.sendFlags,
		SndSeqNum: seq,
		Payload:   nonNil(msg),
	}
	if err := mt.SetChecksum(c.key, c.signUsage); err != nil {
		return nil, tkerrors.NewValidationError(tkerrors.ErrNoCommonAlgorithm, op, "cannot compute checksum", err)
	}
	out, err := mt.Marshal()
	if err != nil {
		return nil, tkerrors.NewCodecError(op, "cannot encode MIC token", err)
	}
	return out, nil
}

// VerifyMIC checks a MIC token produced by the peer over msg. Each token
// is accepted once.
func (c *capability) VerifyMIC(msg, token []byte) error {
	const op = "kerberos.verify_mic"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return destroyed(op)
	}
	var mt gssapi.MICToken
	if err := mt.Unmarshal(token, c.recvFlags&gssapi.MICTokenFlagSentByAcceptor != 0); err != nil {
		return tkerrors.NewCodecError(op, "cannot decode MIC token", err)
	}
	if mt.Flags != c.recvFlags {
		return tkerrors.New(tkerrors.ErrMismatch, op, "MIC token flags do not match the context")
	}
	mt.Payload = nonNil(msg)
	if ok, err := mt.Verify(c.key, c.verifyUsage); !ok {
		return tkerrors.NewValidationError(tkerrors.ErrBadSignature, op, "MIC does not verify", err)
	}
	return c.accept(op, mt.SndSeqNum)
}

// Seal returns a sealed RFC 4121 wrap token carrying plaintext.
func (c *capability) Seal(plaintext []byte) ([]byte, error) {
	const op = "kerberos.seal"

	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.nextSeq(op)
	if err != nil {
		return nil, err
	}

	header := make([]byte, wrapHeaderLen)
	header[0], header[1] = 0x05, 0x04
	header[2] = c.sendFlags | gssapi.MICTokenFlagSealed
	header[3] = 0xFF
	// EC and RRC stay zero: no filler, no rotation.
	binary.BigEndian.PutUint64(header[8:16], seq)

	toEncrypt := make([]byte, len(plaintext)+wrapHeaderLen)
	copy(toEncrypt, plaintext)
	copy(toEncrypt[len(plaintext):], header)
	defer clear(toEncrypt)

	_, ciphertext, err := c.etype.EncryptMessage(c.key.KeyValue, toEncrypt, c.sealUsage)
	if err != nil {
		return nil, tkerrors.NewValidationError(tkerrors.ErrNoCommonAlgorithm, op, "cannot encrypt wrap token", err)
	}
	return append(header, ciphertext...), nil
}

// Unseal opens a sealed wrap token produced by the peer. Each token is
// accepted once.
func (c *capability) Unseal(token []byte) ([]byte, error) {
	const op = "kerberos.unseal"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, destroyed(op)
	}
	minLen := 2*wrapHeaderLen + c.etype.GetConfounderByteSize() + c.etype.GetHMACBitLength()/8
	if len(token) < minLen {
		return nil, tkerrors.New(tkerrors.ErrInvalid, op, "wrap token too short")
	}
	if token[0] != 0x05 || token[1] != 0x04 || token[3] != 0xFF {
		return nil, tkerrors.New(tkerrors.ErrInvalid, op, "not a wrap token")
	}
	flags := token[2]
	if flags != c.recvFlags|gssapi.MICTokenFlagSealed {
		return nil, tkerrors.New(tkerrors.ErrMismatch, op, "wrap token flags do not match the context")
	}
	ec := int(binary.BigEndian.Uint16(token[4:6]))
	rrc := int(binary.BigEndian.Uint16(token[6:8]))
	seq := binary.BigEndian.Uint64(token[8:16])

	ciphertext := rotateLeft(token[wrapHeaderLen:], rrc)
	decrypted, err := c.etype.DecryptMessage(c.key.KeyValue, ciphertext, c.unsealUsage)
	if err != nil {
		return nil, tkerrors.NewValidationError(tkerrors.ErrBadSignature, op, "wrap token does not authenticate", err)
	}

	end := len(decrypted) - wrapHeaderLen - ec
	if end < 0 {
		clear(decrypted)
		return nil, tkerrors.New(tkerrors.ErrInvalid, op, "wrap token filler exceeds payload")
	}
	// The encrypted header copy authenticates the flags and sequence number.
	headerCopy := decrypted[len(decrypted)-wrapHeaderLen:]
	if !bytes.Equal(headerCopy[:3], token[:3]) || binary.BigEndian.Uint64(headerCopy[8:16]) != seq {
		clear(decrypted)
		return nil, tkerrors.New(tkerrors.ErrBadSignature, op, "wrap token header does not match its encrypted copy")
	}

	if err := c.accept(op, seq); err != nil {
		clear(decrypted)
		return nil, err
	}
	plaintext := clone(decrypted[:end])
	clear(decrypted)
	return plaintext, nil
}

// Close zeroes the context key. Every later call fails.
func (c *capability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	clear(c.key.KeyValue)
	c.key = types.EncryptionKey{}
	return nil
}

// nextSeq reserves the next outbound sequence number. Must be called with
// c.mu held.
func (c *capability) nextSeq(op string) (uint64, error) {
	if c.closed {
		return 0, destroyed(op)
	}
	seq := c.sendSeq
	c.sendSeq++
	return seq, nil
}

func (c *capability) accept(op string, seq uint64) error {
	if !c.window.Accept(seq) {
		return tkerrors.New(tkerrors.ErrMismatch, op, "replayed or stale sequence number")
	}
	return nil
}

func destroyed(op string) error {
	return tkerrors.New(tkerrors.ErrTerminalSession, op, "capability has been destroyed")
}

func rotateLeft(data []byte, n int) []byte {
	if len(data) == 0 || n <= 0 {
		return data
	}
	n %= len(data)
	if n == 0 {
		return data
	}
	out := make([]byte, len(data))
	copy(out, data[n:])
	copy(out[len(data)-n:], data[:n])
	return out
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
