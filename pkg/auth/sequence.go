package auth

import "sync"

// DefaultWindowSize is the replay window used by the drivers' capabilities.
const DefaultWindowSize = 128

// SeqWindow is a sliding-window replay detector for inbound per-message
// tokens.
//
// It tracks the highest sequence number seen and a bitmap of the numbers
// within the window below it. A number is accepted once; duplicates and
// numbers that fell below the window are rejected.
//
// Thread Safety: All methods are safe for concurrent use.
type SeqWindow struct {
	size    uint64
	highest uint64
	started bool
	bitmap  []uint64
	mu      sync.Mutex
}

// NewSeqWindow creates a window tracking the last size sequence numbers.
func NewSeqWindow(size uint32) *SeqWindow {
	if size == 0 {
		size = 1
	}
	return &SeqWindow{
		size:   uint64(size),
		bitmap: make([]uint64, (size+63)/64),
	}
}

// Accept reports whether seq is new and inside the window, and marks it as
// seen. The first number accepted anchors the window.
func (w *SeqWindow) Accept(seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		w.started = true
		w.highest = seq
		w.setBit(seq)
		return true
	}

	if w.highest >= w.size && seq < w.highest-w.size+1 {
		return false
	}

	if seq <= w.highest {
		if w.isBitSet(seq) {
			return false
		}
		w.setBit(seq)
		return true
	}

	w.slide(seq - w.highest)
	w.highest = seq
	w.setBit(seq)
	return true
}

// Reset forgets every number seen.
func (w *SeqWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.highest = 0
	w.started = false
	clear(w.bitmap)
}

// Must be called with w.mu held.
func (w *SeqWindow) setBit(seq uint64) {
	off := seq % w.size
	w.bitmap[off/64] |= 1 << (off % 64)
}

// Must be called with w.mu held.
func (w *SeqWindow) isBitSet(seq uint64) bool {
	off := seq % w.size
	return w.bitmap[off/64]&(1<<(off%64)) != 0
}

// slide clears the positions about to be reused by numbers entering the
// window. Must be called with w.mu held.
func (w *SeqWindow) slide(shift uint64) {
	if shift >= w.size {
		clear(w.bitmap)
		return
	}
	for i := uint64(0); i < shift; i++ {
		pos := (w.highest + 1 + i) % w.size
		w.bitmap[pos/64] &^= 1 << (pos % 64)
	}
}
