package codec

import (
	"github.com/jcmturner/gofork/encoding/asn1"

	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// GSS-API token identifiers (RFC 4121 section 4.1, plus 0x0201 for an
// AP-REP that asks the initiator for a confirmation round).
const (
	TokenAPReq         uint16 = 0x0100
	TokenAPRep         uint16 = 0x0200
	TokenAPRepContinue uint16 = 0x0201
	TokenKRBError      uint16 = 0x0300
	TokenMIC           uint16 = 0x0404
	TokenWrap          uint16 = 0x0504
)

// WrapMechToken builds an RFC 2743 section 3.1 initial context token:
//
//	0x60 [length] [mech OID] [token ID] [inner token]
func WrapMechToken(oid asn1.ObjectIdentifier, tokenID uint16, inner []byte) ([]byte, error) {
	oidBytes, err := asn1.Marshal(oid)
	if err != nil {
		return nil, tkerrors.NewCodecError("codec.gss_wrap", "marshal mechanism OID", err)
	}

	content := make([]byte, 0, len(oidBytes)+2+len(inner))
	content = append(content, oidBytes...)
	content = append(content, byte(tokenID>>8), byte(tokenID))
	content = append(content, inner...)

	length := encodeLength(len(content))
	out := make([]byte, 0, 1+len(length)+len(content))
	out = append(out, 0x60)
	out = append(out, length...)
	return append(out, content...), nil
}

// UnwrapMechToken reverses WrapMechToken.
func UnwrapMechToken(b []byte) (asn1.ObjectIdentifier, uint16, []byte, error) {
	const op = "codec.gss_unwrap"

	if len(b) > MaxMessageSize {
		return nil, 0, nil, invalid(op, "token of %d bytes exceeds limit", len(b))
	}
	if len(b) < 2 || b[0] != 0x60 {
		return nil, 0, nil, invalid(op, "not a GSS-API framed token")
	}

	length, n, err := parseLength(b[1:])
	if err != nil {
		return nil, 0, nil, tkerrors.NewCodecError(op, "bad token length", err)
	}
	body := b[1+n:]
	if length != len(body) {
		return nil, 0, nil, invalid(op, "token length %d does not match %d available bytes", length, len(body))
	}

	var oid asn1.ObjectIdentifier
	rest, err := asn1.Unmarshal(body, &oid)
	if err != nil {
		return nil, 0, nil, tkerrors.NewCodecError(op, "bad mechanism OID", err)
	}
	if len(rest) < 2 {
		return nil, 0, nil, invalid(op, "missing token identifier")
	}
	tokenID := uint16(rest[0])<<8 | uint16(rest[1])
	return oid, tokenID, rest[2:], nil
}

func encodeLength(length int) []byte {
	if length < 128 {
		return []byte{byte(length)}
	}

	var lengthBytes []byte
	for length > 0 {
		lengthBytes = append([]byte{byte(length & 0xFF)}, lengthBytes...)
		length >>= 8
	}
	return append([]byte{byte(0x80 | len(lengthBytes))}, lengthBytes...)
}

// parseLength returns the length value and the number of bytes consumed.
func parseLength(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, invalid("codec.length", "empty length field")
	}

	first := data[0]
	if first < 0x80 {
		return int(first), 1, nil
	}

	numBytes := int(first & 0x7f)
	if numBytes == 0 || numBytes > 4 {
		return 0, 0, invalid("codec.length", "invalid length of %d bytes", numBytes)
	}
	if 1+numBytes > len(data) {
		return 0, 0, invalid("codec.length", "truncated length")
	}

	length := 0
	for i := 1; i <= numBytes; i++ {
		length = (length << 8) | int(data[i])
	}
	return length, 1 + numBytes, nil
}
