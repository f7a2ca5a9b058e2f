// Package bufpool recycles scratch buffers used while streaming data into
// hash states.
//
// Buffers come in two size classes. Requests above the large class are
// allocated directly and never pooled. Every buffer is zeroed before it
// goes back to a pool, since callers stream credential files and key
// material through them.
//
//	buf := bufpool.Get(bufpool.DefaultLargeSize)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

const (
	// DefaultSmallSize fits handshake tokens and PEM blocks (4KB).
	DefaultSmallSize = 4 << 10

	// DefaultLargeSize is the streaming chunk for file digests (64KB).
	DefaultLargeSize = 64 << 10
)

// Pool hands out byte slices from two size classes.
type Pool struct {
	small     sync.Pool
	large     sync.Pool
	smallSize int
	largeSize int
}

// NewPool creates a pool with the given class sizes. Non-positive sizes
// select the defaults; a small class larger than the large class is
// clamped.
func NewPool(smallSize, largeSize int) *Pool {
	if smallSize <= 0 {
		smallSize = DefaultSmallSize
	}
	if largeSize <= 0 {
		largeSize = DefaultLargeSize
	}
	if smallSize > largeSize {
		smallSize = largeSize
	}

	p := &Pool{smallSize: smallSize, largeSize: largeSize}
	p.small.New = func() any {
		buf := make([]byte, p.smallSize)
		return &buf
	}
	p.large.New = func() any {
		buf := make([]byte, p.largeSize)
		return &buf
	}
	return p
}

// Get returns a slice of length size. Return it with Put.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put zeroes buf and returns it to its class. Buffers that did not come
// from the pool are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.smallSize:
		clear(full)
		p.small.Put(&full)
	case p.largeSize:
		clear(full)
		p.large.Put(&full)
	}
}

var global = NewPool(DefaultSmallSize, DefaultLargeSize)

// Get returns a slice of length size from the shared pool.
func Get(size int) []byte { return global.Get(size) }

// Put returns buf to the shared pool.
func Put(buf []byte) { global.Put(buf) }
