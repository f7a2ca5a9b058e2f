package digest

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

func TestKnownVectors(t *testing.T) {
	tests := []struct {
		alg   Algorithm
		input string
		want  string
	}{
		{SHA3_512, "", "a69f73cca23a9ac5c8b567dc185a756e97c982164fe25859e0d1dcc1475c80a615b2123af1f5f94c11e3e9402c3ac558f500199d95b6d3e301758586281dcd26"},
		{SHA384, "abc", "cb00753f45a35e8bb5a03d699ac65007272c32ab0eded1631a8b605a43ff5bed8086072ba1e7cc2358baeca134c825a7"},
		{RipeMD160, "", "9c1185a5c5e9fc54612808977ee8f548b2258d31"},
		{Blake2b, "", "786a02f742015903c6c6fd852552d272912f4740e15847618a86e217f71f5419d25e1031afee585313896444934eb04b903a685b1448b755d56f701afe9be2ce"},
		{Whirlpool, "", "19fa61d75522a4669b44e39c1d2e1726c530232130d407f89afee0964997f7a73e83be698b288febcf88e3e03c4f0757ea8964e59b63d93708b138cc42a66eb3"},
	}

	for _, tt := range tests {
		t.Run(tt.alg.String(), func(t *testing.T) {
			d, err := Sum(tt.alg, []byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(d.Bytes()))
		})
	}
}

func TestSizes(t *testing.T) {
	want := map[Algorithm]int{
		Blake2b:   64,
		RipeMD160: 20,
		SHA3_512:  64,
		SHA384:    48,
		Skein:     64,
		Whirlpool: 64,
	}
	for _, alg := range All() {
		d, err := Sum(alg, []byte("trustkit"))
		require.NoError(t, err)
		assert.Equal(t, want[alg], alg.Size(), alg.String())
		assert.Len(t, d.Bytes(), want[alg], alg.String())
	}
}

func TestChunkingEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 10_000)
	rng.Read(data)

	for _, alg := range All() {
		t.Run(alg.String(), func(t *testing.T) {
			want, err := Sum(alg, data)
			require.NoError(t, err)

			for trial := 0; trial < 20; trial++ {
				h, err := New(alg)
				require.NoError(t, err)

				rest := data
				for len(rest) > 0 {
					n := rng.Intn(len(rest)) + 1
					if trial%4 == 0 {
						n = 1 + rng.Intn(3)
						if n > len(rest) {
							n = len(rest)
						}
					}
					_, err := h.Write(rest[:n])
					require.NoError(t, err)
					rest = rest[n:]
				}
				// Empty chunks must not change the result.
				_, err = h.Write(nil)
				require.NoError(t, err)

				got, err := h.Finalize()
				require.NoError(t, err)
				assert.True(t, want.Equal(got), "trial %d", trial)
			}
		})
	}
}

func TestDoubleFinalize(t *testing.T) {
	h, err := New(Default)
	require.NoError(t, err)

	_, err = h.Write([]byte("abc"))
	require.NoError(t, err)
	first, err := h.Finalize()
	require.NoError(t, err)

	_, err = h.Finalize()
	require.Error(t, err)
	assert.True(t, tkerrors.IsMisuseError(err))
	assert.True(t, tkerrors.Is(err, tkerrors.ErrDoubleFinalize))

	_, err = h.Write([]byte("more"))
	assert.True(t, tkerrors.IsMisuseError(err))

	h.Reset()
	_, err = h.Write([]byte("abc"))
	require.NoError(t, err)
	second, err := h.Finalize()
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestDigestEquality(t *testing.T) {
	a, err := Sum(SHA3_512, []byte("x"))
	require.NoError(t, err)
	b, err := Sum(SHA3_512, []byte("x"))
	require.NoError(t, err)
	c, err := Sum(Blake2b, []byte("x"))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "same length, different algorithm")

	forged, err := FromBytes(Blake2b, a.Bytes())
	require.NoError(t, err)
	assert.False(t, a.Equal(forged))
}

func TestFromBytesLength(t *testing.T) {
	_, err := FromBytes(RipeMD160, make([]byte, 19))
	require.Error(t, err)
	assert.True(t, tkerrors.IsCodecError(err))
}

func TestStringRoundTrip(t *testing.T) {
	for _, alg := range All() {
		d, err := Sum(alg, []byte("round trip"))
		require.NoError(t, err)

		s := d.String()
		assert.True(t, strings.HasPrefix(s, alg.String()+":"))

		parsed, err := ParseDigest(s)
		require.NoError(t, err)
		assert.True(t, d.Equal(parsed))
	}
}

func TestParseDigestErrors(t *testing.T) {
	_, err := ParseDigest("deadbeef")
	assert.True(t, tkerrors.IsCodecError(err))

	_, err = ParseDigest("SHA3-512:zz")
	assert.True(t, tkerrors.IsCodecError(err))

	_, err = ParseDigest("MD5:d41d8cd98f00b204e9800998ecf8427e")
	assert.True(t, tkerrors.Is(err, tkerrors.ErrUnsupported))
}

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]Algorithm{
		"SHA3-512":    SHA3_512,
		"sha3-512":    SHA3_512,
		"blake2b-512": Blake2b,
		"Blake2b":     Blake2b,
		"ripemd160":   RipeMD160,
		"RipeMD-160":  RipeMD160,
		"sha-384":     SHA384,
		"SHA384":      SHA384,
		"skein-512":   Skein,
		" whirlpool ": Whirlpool,
	}
	for name, want := range tests {
		got, err := ParseAlgorithm(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseAlgorithm("md5")
	assert.Error(t, err)
}

func TestAlgorithmText(t *testing.T) {
	var a Algorithm
	require.NoError(t, a.UnmarshalText([]byte("skein")))
	assert.Equal(t, Skein, a)

	b, err := a.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Skein", string(b))

	_, err = Algorithm(0).MarshalText()
	assert.Error(t, err)
}

func TestSumReader(t *testing.T) {
	data := bytes.Repeat([]byte("stream"), 4096)
	want, err := Sum(Whirlpool, data)
	require.NoError(t, err)

	got, err := SumReader(Whirlpool, bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := Sum(Algorithm(99), nil)
	assert.True(t, tkerrors.Is(err, tkerrors.ErrUnsupported))

	_, err = New(Algorithm(0))
	assert.Error(t, err)
	assert.Equal(t, "Unknown", Algorithm(99).String())
	assert.Equal(t, 0, Algorithm(99).Size())
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name    string
		local   []Algorithm
		offered []Algorithm
		want    Algorithm
		wantErr bool
	}{
		{"first local preference wins", []Algorithm{Blake2b, SHA3_512}, []Algorithm{SHA3_512, Blake2b}, Blake2b, false},
		{"falls through to later preference", []Algorithm{Skein, SHA384}, []Algorithm{SHA384}, SHA384, false},
		{"empty local uses default", nil, []Algorithm{Whirlpool, SHA3_512}, SHA3_512, false},
		{"no overlap", []Algorithm{RipeMD160}, []Algorithm{SHA3_512}, 0, true},
		{"empty offer", []Algorithm{SHA3_512}, nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.local, tt.offered)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, tkerrors.Is(err, tkerrors.ErrNoCommonAlgorithm))
				assert.True(t, tkerrors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
