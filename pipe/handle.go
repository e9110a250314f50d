package pipe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/echopipe/errors"
)

// Access is the capability set of a handle.
type Access uint8

const (
	// AccessRead permits Read and readiness queries.
	AccessRead Access = 1 << iota
	// AccessWrite permits Write, Resize and Clear, and counts toward
	// the resource's writer lifetime.
	AccessWrite
)

// AccessReadWrite opens a handle with both capabilities.
const AccessReadWrite = AccessRead | AccessWrite

// CanRead reports whether the access set includes read capability.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite reports whether the access set includes write capability.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

func (a Access) String() string {
	switch {
	case a.CanRead() && a.CanWrite():
		return "rw"
	case a.CanWrite():
		return "w"
	case a.CanRead():
		return "r"
	default:
		return "none"
	}
}

// Handle is a capability-scoped reference to a Resource. Handles are
// safe for concurrent use; the non-blocking flag applies to the whole
// handle, mirroring a file-descriptor O_NONBLOCK mode.
type Handle struct {
	r           *Resource
	access      Access
	nonblocking atomic.Bool
	closeOnce   sync.Once
	closed      atomic.Bool
}

// Open returns a new handle with the requested capabilities. Opening
// with write access increments the resource's writer count and fails
// with ErrWriterLimit once the count is saturated, or ErrGone once
// teardown has begun.
func (r *Resource) Open(access Access) (*Handle, error) {
	if access == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Resource", "Open", "validate access")
	}

	if access.CanWrite() {
		if err := r.openWriter(); err != nil {
			return nil, err
		}
	} else {
		r.mu.RLock()
		closing := r.closing
		r.mu.RUnlock()
		if closing {
			return nil, errors.ErrGone
		}
	}

	return &Handle{r: r, access: access}, nil
}

// Close releases the handle. Closing the last write-capable handle
// signals end-of-input to readers. Close is idempotent.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.access.CanWrite() {
			h.r.closeWriter()
		}
	})
	return nil
}

// Access returns the handle's capability set.
func (h *Handle) Access() Access { return h.access }

// SetNonblocking switches the handle between blocking and
// non-blocking I/O. In non-blocking mode Read and Write return
// ErrWouldBlock instead of waiting.
func (h *Handle) SetNonblocking(nonblocking bool) {
	h.nonblocking.Store(nonblocking)
}

// Nonblocking reports the handle's current I/O mode.
func (h *Handle) Nonblocking() bool { return h.nonblocking.Load() }

// Read drains up to len(p) bytes from the front of the buffer. It
// blocks while the buffer is empty and writers remain open (unless the
// handle is non-blocking), and returns io.EOF once the buffer is empty
// and the last writer has closed.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation: ctx ending while the caller
// is blocked surfaces ErrInterrupted.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	if h.closed.Load() {
		return 0, errors.ErrClosed
	}
	if !h.access.CanRead() {
		return 0, errors.ErrPermission
	}
	return h.r.read(ctx, p, h.nonblocking.Load())
}

// Write appends all of p, blocking whenever the buffer is full (unless
// the handle is non-blocking). Partial writes already delivered are
// not rolled back; callers must inspect the returned count.
func (h *Handle) Write(p []byte) (int, error) {
	return h.WriteContext(context.Background(), p)
}

// WriteContext is Write with cancellation: ctx ending while the caller
// is blocked surfaces ErrInterrupted.
func (h *Handle) WriteContext(ctx context.Context, p []byte) (int, error) {
	if h.closed.Load() {
		return 0, errors.ErrClosed
	}
	if !h.access.CanWrite() {
		return 0, errors.ErrPermission
	}
	return h.r.write(ctx, p, h.nonblocking.Load())
}

// Capacity returns the current buffer capacity.
func (h *Handle) Capacity() int { return h.r.Capacity() }

// Buffered returns the number of bytes available to read.
func (h *Handle) Buffered() int { return h.r.Buffered() }

// Space returns the number of bytes writable without blocking.
func (h *Handle) Space() int { return h.r.Space() }

// Resize sets the buffer capacity. It requires write capability
// regardless of the resize outcome, rejects shrinking below the
// current fill level with ErrBusy, and wakes blocked writers when
// growth creates space.
func (h *Handle) Resize(capacity int) error {
	if h.closed.Load() {
		return errors.ErrClosed
	}
	if !h.access.CanWrite() {
		return errors.ErrPermission
	}
	return h.r.resize(capacity)
}

// Clear truncates the buffer to empty. It requires write capability
// and wakes blocked writers when the buffer was full.
func (h *Handle) Clear() error {
	if h.closed.Load() {
		return errors.ErrClosed
	}
	if !h.access.CanWrite() {
		return errors.ErrPermission
	}
	return h.r.clear()
}
