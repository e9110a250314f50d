package pipe

import (
	"github.com/c360/echopipe/errors"
)

// boundedBuffer is the storage layer of a Resource: a contiguous,
// left-justified byte buffer with a mutable capacity. It performs no
// locking and never blocks; the Resource serializes access and decides
// when callers wait.
type boundedBuffer struct {
	data   []byte // len(data) == capacity
	filled int    // bytes of valid, unread data at data[0:filled]
}

func newBoundedBuffer(capacity int) *boundedBuffer {
	return &boundedBuffer{data: make([]byte, capacity)}
}

func (b *boundedBuffer) capacity() int { return len(b.data) }

func (b *boundedBuffer) space() int { return len(b.data) - b.filled }

func (b *boundedBuffer) full() bool { return b.filled == len(b.data) }

// readSome copies up to len(p) valid bytes from the front of the
// buffer into p and compacts the remainder to offset 0. Returns the
// number of bytes copied.
func (b *boundedBuffer) readSome(p []byte) int {
	n := copy(p, b.data[:b.filled])
	if n == 0 {
		return 0
	}
	copy(b.data, b.data[n:b.filled])
	b.filled -= n
	return n
}

// writeSome appends up to len(p) bytes at the fill level. Returns the
// number of bytes consumed from p.
func (b *boundedBuffer) writeSome(p []byte) int {
	n := copy(b.data[b.filled:], p)
	b.filled += n
	return n
}

// resize changes the capacity. Shrinking below the fill level fails
// with ErrBusy. Growth reallocates so the extension is zero-filled and
// never exposes stale bytes.
func (b *boundedBuffer) resize(capacity int) error {
	switch {
	case capacity == len(b.data):
		return nil
	case capacity < b.filled:
		return errors.ErrBusy
	default:
		data := make([]byte, capacity)
		copy(data, b.data[:b.filled])
		b.data = data
		return nil
	}
}

// clear truncates to empty. Storage is not zeroed; only resize growth
// must guarantee zero-filled memory.
func (b *boundedBuffer) clear() {
	b.filled = 0
}
