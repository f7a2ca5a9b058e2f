package digest

import (
	"hash"

	tkerrors "github.com/marmos91/trustkit/pkg/errors"
)

// Hasher accumulates input chunks for a single digest.
//
// A Hasher is not safe for concurrent use. Finalize may be called once;
// calling it again, or writing after it, is a misuse until Reset is called.
type Hasher struct {
	alg       Algorithm
	h         hash.Hash
	finalized bool
}

// New returns a Hasher for alg.
func New(alg Algorithm) (*Hasher, error) {
	info, ok := algorithms[alg]
	if !ok {
		return nil, tkerrors.Newf(tkerrors.ErrUnsupported, "digest.new", "unknown algorithm %d", int(alg))
	}
	return &Hasher{alg: alg, h: info.newHash()}, nil
}

// Algorithm returns the algorithm of the hasher.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Write adds p to the running digest. It implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	if h.finalized {
		return 0, tkerrors.NewMisuseError(tkerrors.ErrDoubleFinalize, "digest.write", "write after finalize")
	}
	return h.h.Write(p)
}

// Finalize returns the digest of everything written so far.
func (h *Hasher) Finalize() (Digest, error) {
	if h.finalized {
		return Digest{}, tkerrors.NewMisuseError(tkerrors.ErrDoubleFinalize, "digest.finalize", "finalize called twice without reset")
	}
	h.finalized = true
	return Digest{alg: h.alg, sum: h.h.Sum(nil)}, nil
}

// Reset clears the accumulated state so the hasher can be reused.
func (h *Hasher) Reset() {
	h.h.Reset()
	h.finalized = false
}
