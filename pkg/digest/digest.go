// Package digest provides a uniform hashing abstraction over several hash
// families.
//
// A Digest is always tagged with the Algorithm that produced it and is
// exactly Algorithm.Size() bytes long. Incremental hashing through a Hasher
// over any chunking of the input yields the same Digest as Sum over the
// concatenation.
package digest

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/aead/skein"
	"github.com/jzelinskie/whirlpool"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // RipeMD-160 is part of the supported family set
	"golang.org/x/crypto/sha3"

	"github.com/marmos91/trustkit/internal/bufpool"
	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Algorithm identifies a supported hash family.
type Algorithm int

const (
	// Blake2b is BLAKE2b with a 512-bit output.
	Blake2b Algorithm = iota + 1
	// RipeMD160 is RIPEMD-160.
	RipeMD160
	// SHA3_512 is SHA3-512 (FIPS 202).
	SHA3_512
	// SHA384 is SHA-384 (FIPS 180-4).
	SHA384
	// Skein is Skein-512 with a 512-bit output.
	Skein
	// Whirlpool is the ISO/IEC 10118-3 Whirlpool hash.
	Whirlpool
)

// Default is the algorithm used when no preference is configured.
const Default = SHA3_512

type algorithmInfo struct {
	name    string
	size    int
	aliases []string
	newHash func() hash.Hash
}

var algorithms = map[Algorithm]algorithmInfo{
	Blake2b: {
		name:    "Blake2b",
		size:    blake2b.Size,
		aliases: []string{"blake2b-512", "blake2b512", "blake2"},
		newHash: func() hash.Hash {
			h, _ := blake2b.New512(nil) // only fails for oversized keys
			return h
		},
	},
	RipeMD160: {
		name:    "RipeMD-160",
		size:    ripemd160.Size,
		aliases: []string{"ripemd160", "ripemd-160", "ripemd"},
		newHash: ripemd160.New,
	},
	SHA3_512: {
		name:    "SHA3-512",
		size:    64,
		aliases: []string{"sha3", "sha3_512", "sha3512"},
		newHash: func() hash.Hash { return sha3.New512() },
	},
	SHA384: {
		name:    "SHA384",
		size:    sha512.Size384,
		aliases: []string{"sha-384", "sha2-384"},
		newHash: sha512.New384,
	},
	Skein: {
		name:    "Skein",
		size:    64,
		aliases: []string{"skein-512", "skein512"},
		newHash: func() hash.Hash { return skein.New512(nil) },
	},
	Whirlpool: {
		name:    "Whirlpool",
		size:    64,
		newHash: whirlpool.New,
	},
}

// All returns every supported algorithm in a stable order.
func All() []Algorithm {
	return []Algorithm{Blake2b, RipeMD160, SHA3_512, SHA384, Skein, Whirlpool}
}

// String returns the canonical name of the algorithm.
func (a Algorithm) String() string {
	if info, ok := algorithms[a]; ok {
		return info.name
	}
	return "Unknown"
}

// Size returns the output length in bytes, or 0 for an unknown algorithm.
func (a Algorithm) Size() int {
	return algorithms[a].size
}

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	_, ok := algorithms[a]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, tkerrors.Newf(tkerrors.ErrUnsupported, "digest.marshal", "unknown algorithm %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAlgorithm resolves a canonical name or alias, case-insensitively.
func ParseAlgorithm(name string) (Algorithm, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, alg := range All() {
		info := algorithms[alg]
		if n == strings.ToLower(info.name) {
			return alg, nil
		}
		for _, alias := range info.aliases {
			if n == alias {
				return alg, nil
			}
		}
	}
	return 0, tkerrors.Newf(tkerrors.ErrUnsupported, "digest.parse", "unknown digest algorithm %q", name)
}

// ParseAlgorithms resolves a list of names, preserving order.
func ParseAlgorithms(names []string) ([]Algorithm, error) {
	out := make([]Algorithm, 0, len(names))
	for _, name := range names {
		alg, err := ParseAlgorithm(name)
		if err != nil {
			return nil, err
		}
		out = append(out, alg)
	}
	return out, nil
}

// Digest is a hash output tagged with its algorithm.
type Digest struct {
	alg Algorithm
	sum []byte
}

// FromBytes builds a Digest from raw bytes, checking the length against
// the algorithm's output size.
func FromBytes(alg Algorithm, b []byte) (Digest, error) {
	if !alg.Valid() {
		return Digest{}, tkerrors.Newf(tkerrors.ErrUnsupported, "digest.from_bytes", "unknown algorithm %d", int(alg))
	}
	if len(b) != alg.Size() {
		return Digest{}, tkerrors.Newf(tkerrors.ErrInvalid, "digest.from_bytes",
			"%s digest must be %d bytes, got %d", alg, alg.Size(), len(b))
	}
	return Digest{alg: alg, sum: append([]byte(nil), b...)}, nil
}

// Algorithm returns the algorithm that produced the digest.
func (d Digest) Algorithm() Algorithm { return d.alg }

// Bytes returns a copy of the digest bytes.
func (d Digest) Bytes() []byte { return append([]byte(nil), d.sum...) }

// IsZero reports whether d is the zero Digest.
func (d Digest) IsZero() bool { return d.alg == 0 && len(d.sum) == 0 }

// Equal reports whether both the algorithm tag and the bytes match.
// The byte comparison runs in constant time.
func (d Digest) Equal(other Digest) bool {
	return d.alg == other.alg && hmac.Equal(d.sum, other.sum)
}

// String formats the digest as "name:hex".
func (d Digest) String() string {
	return d.alg.String() + ":" + hex.EncodeToString(d.sum)
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses the "name:hex" form produced by String.
func ParseDigest(s string) (Digest, error) {
	name, hexPart, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, tkerrors.New(tkerrors.ErrInvalid, "digest.parse", "missing algorithm prefix")
	}
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return Digest{}, err
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil {
		return Digest{}, tkerrors.NewCodecError("digest.parse", "digest is not valid hex", err)
	}
	return FromBytes(alg, raw)
}

// Sum computes the digest of data in one shot.
func Sum(alg Algorithm, data []byte) (Digest, error) {
	info, ok := algorithms[alg]
	if !ok {
		return Digest{}, tkerrors.Newf(tkerrors.ErrUnsupported, "digest.sum", "unknown algorithm %d", int(alg))
	}
	h := info.newHash()
	h.Write(data)
	return Digest{alg: alg, sum: h.Sum(nil)}, nil
}

// SumReader digests everything readable from r.
func SumReader(alg Algorithm, r io.Reader) (Digest, error) {
	h, err := New(alg)
	if err != nil {
		return Digest{}, err
	}
	buf := bufpool.Get(bufpool.DefaultLargeSize)
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Digest{}, err
	}
	return h.Finalize()
}
