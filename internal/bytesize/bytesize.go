// Package bytesize parses human-readable message size limits such as
// "64Ki" or "16KB".
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/invopop/jsonschema"
)

// ByteSize is a size in bytes. It decodes from plain numbers or from a
// number followed by a binary (Ki, Mi) or decimal (K, M) unit, with an
// optional trailing "B".
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
)

var units = map[string]ByteSize{
	"":   B,
	"k":  KB,
	"m":  MB,
	"ki": KiB,
	"mi": MiB,
}

// Parse converts s into a ByteSize. Fractions are allowed with a unit
// ("1.5Ki") and rounded down to whole bytes.
func Parse(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	split := strings.IndexFunc(trimmed, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	num, unit := trimmed, ""
	if split >= 0 {
		num, unit = trimmed[:split], strings.TrimSpace(trimmed[split:])
	}
	unit = strings.TrimSuffix(strings.ToLower(unit), "b")

	mult, ok := units[unit]
	if !ok || num == "" {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q", s)
		}
		return ByteSize(f * float64(mult)), nil
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalText implements encoding.TextMarshaler. Exact multiples of KiB
// and MiB keep their unit so the value survives a round trip.
func (b ByteSize) MarshalText() ([]byte, error) {
	switch {
	case b >= MiB && b%MiB == 0:
		return []byte(strconv.FormatUint(uint64(b/MiB), 10) + "Mi"), nil
	case b >= KiB && b%KiB == 0:
		return []byte(strconv.FormatUint(uint64(b/KiB), 10) + "Ki"), nil
	default:
		return []byte(strconv.FormatUint(uint64(b), 10)), nil
	}
}

// String returns the MarshalText form followed by "B", e.g. "64KiB".
func (b ByteSize) String() string {
	t, _ := b.MarshalText()
	return string(t) + "B"
}

// JSONSchema accepts either a byte count or a size string.
func (ByteSize) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer"},
			{Type: "string", Pattern: `^\s*[0-9]+(\.[0-9]+)?\s*([KkMm][Ii]?)?[Bb]?\s*$`},
		},
	}
}
