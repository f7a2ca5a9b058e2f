// Package codec encodes and decodes the ASN.1 (DER) structures exchanged by
// the authentication mechanisms and stored as credential material.
//
// Every message type carries its own APPLICATION tag so that a receiver can
// dispatch on PeekTag before decoding. Decode is strict: malformed DER,
// trailing bytes, an unexpected tag or a value that fails shape validation
// are all reported as CodecError{Invalid}.
package codec

import (
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"

	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// MaxMessageSize bounds the size of any encoded message accepted by Decode.
const MaxMessageSize = 64 * 1024

// Application tags of the message types.
const (
	TagHello            = 1
	TagReply            = 2
	TagFinish           = 3
	TagAlert            = 4
	TagTicketCredential = 10
)

// Message is implemented by every structure the codec can carry.
type Message interface {
	// Tag returns the APPLICATION tag of the message type.
	Tag() int
	// Validate checks the shape of a decoded or to-be-encoded value.
	Validate() error
}

// Encode serializes m as DER wrapped in its APPLICATION tag.
func Encode[T Message](m T) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return marshal(m)
}

func marshal[T Message](m T) ([]byte, error) {
	b, err := asn1.Marshal(m)
	if err != nil {
		return nil, tkerrors.NewCodecError("codec.encode", fmt.Sprintf("marshal tag %d", m.Tag()), err)
	}
	return asn1tools.AddASNAppTag(b, m.Tag()), nil
}

// Decode parses b as a message of type T.
func Decode[T Message](b []byte) (T, error) {
	var m T
	if len(b) > MaxMessageSize {
		return m, tkerrors.Newf(tkerrors.ErrInvalid, "codec.decode", "message of %d bytes exceeds limit", len(b))
	}

	tag, err := PeekTag(b)
	if err != nil {
		return m, err
	}
	if tag != m.Tag() {
		return m, tkerrors.Newf(tkerrors.ErrInvalid, "codec.decode", "expected tag %d, got %d", m.Tag(), tag)
	}

	rest, err := asn1.UnmarshalWithParams(b, &m, fmt.Sprintf("application,explicit,tag:%d", m.Tag()))
	if err != nil {
		var zero T
		return zero, tkerrors.NewCodecError("codec.decode", fmt.Sprintf("malformed tag %d", tag), err)
	}
	if len(rest) != 0 {
		var zero T
		return zero, tkerrors.Newf(tkerrors.ErrInvalid, "codec.decode", "%d trailing bytes", len(rest))
	}
	if err := m.Validate(); err != nil {
		var zero T
		return zero, err
	}
	return m, nil
}

// PeekTag returns the APPLICATION tag number of an encoded message without
// decoding it.
func PeekTag(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, tkerrors.New(tkerrors.ErrInvalid, "codec.peek", "message too short")
	}
	// Constructed APPLICATION class, low-tag-number form.
	if b[0]&0xe0 != 0x60 {
		return 0, tkerrors.Newf(tkerrors.ErrInvalid, "codec.peek", "not an application tag: 0x%02x", b[0])
	}
	tag := int(b[0] & 0x1f)
	if tag == 0x1f {
		return 0, tkerrors.New(tkerrors.ErrInvalid, "codec.peek", "high tag numbers are not used")
	}
	return tag, nil
}

func invalid(op, format string, args ...any) error {
	return tkerrors.Newf(tkerrors.ErrInvalid, op, format, args...)
}
