package pipe

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/c360/echopipe/errors"
)

const (
	// DefaultCapacity is the buffer capacity used when a daemon does
	// not configure one.
	DefaultCapacity = 64

	// DefaultMaxCapacity bounds Resize when WithMaxCapacity is not
	// given.
	DefaultMaxCapacity = 1 << 20

	// MaxWriters is the writer-count saturation point. Open with write
	// access fails with ErrWriterLimit once this many write-capable
	// handles are open.
	MaxWriters = math.MaxUint32
)

// Resource is a synchronized bounded byte buffer shared by concurrent
// readers and writers. All state is guarded by one lock; blocked
// callers park on a single broadcast condition and re-check their own
// predicate after every wakeup.
type Resource struct {
	mu   sync.RWMutex
	cond *sync.Cond

	buf     *boundedBuffer
	writers uint32
	closing bool

	maxCapacity int

	// Edge-triggered subscribers, one set per direction.
	readSubs  map[string]*Subscription
	writeSubs map[string]*Subscription
	seq       uint64

	stats   *Statistics
	metrics *pipeMetrics
	logger  *slog.Logger
}

// New creates a Resource with the given initial capacity.
// Stats are always collected; Prometheus metrics are optional via
// WithMetrics. Returns an error if metrics registration fails or the
// capacity is out of range.
func New(capacity int, options ...Option) (*Resource, error) {
	opts := applyOptions(options...)

	if capacity < 0 || capacity > opts.maxCapacity {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Resource", "New", "validate capacity")
	}

	var metrics *pipeMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newPipeMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "Resource", "New", "metrics registration")
		}
	}

	r := &Resource{
		buf:         newBoundedBuffer(capacity),
		maxCapacity: opts.maxCapacity,
		readSubs:    make(map[string]*Subscription),
		writeSubs:   make(map[string]*Subscription),
		stats:       NewStatistics(),
		metrics:     metrics,
		logger:      opts.logger,
	}
	r.cond = sync.NewCond(&r.mu)

	if r.metrics != nil {
		r.metrics.setCapacity(capacity)
	}
	r.logger.Debug("resource created", "capacity", capacity, "max_capacity", opts.maxCapacity)

	return r, nil
}

// Close begins teardown: the closing flag is set exactly once, every
// blocked caller is woken so none is left waiting past teardown, and
// all subscriptions end. Pending and future blocking operations
// observe ErrGone. Close is idempotent.
func (r *Resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return nil
	}
	r.closing = true

	r.cond.Broadcast()
	r.stats.Broadcast()

	for _, s := range r.readSubs {
		s.detach()
	}
	for _, s := range r.writeSubs {
		s.detach()
	}
	r.readSubs = make(map[string]*Subscription)
	r.writeSubs = make(map[string]*Subscription)
	if r.metrics != nil {
		r.metrics.setSubscriptions(0)
	}

	r.logger.Debug("resource closed")
	return nil
}

// Closed reports whether teardown has begun.
func (r *Resource) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closing
}

// Capacity returns the current buffer capacity in bytes.
func (r *Resource) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buf.capacity()
}

// Buffered returns the number of bytes available to read.
func (r *Resource) Buffered() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buf.filled
}

// Space returns the number of bytes that can be written without
// blocking.
func (r *Resource) Space() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buf.space()
}

// Writers returns the number of open write-capable handles.
func (r *Resource) Writers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.writers)
}

// Stats returns resource statistics (always collected).
func (r *Resource) Stats() *Statistics {
	return r.stats
}

// openWriter accounts a new write-capable handle.
func (r *Resource) openWriter() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return errors.ErrGone
	}
	if r.writers == MaxWriters {
		return errors.ErrWriterLimit
	}
	r.writers++
	if r.metrics != nil {
		r.metrics.setWriters(int(r.writers))
	}
	return nil
}

// closeWriter drops a write-capable handle. When the count reaches
// zero every waiting reader is woken and read readiness fires: with no
// writers left, reads observe end-of-input instead of blocking.
func (r *Resource) closeWriter() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writers--
	if r.metrics != nil {
		r.metrics.setWriters(int(r.writers))
	}
	if r.writers == 0 {
		r.cond.Broadcast()
		r.stats.Broadcast()
		r.notifyReadLocked()
	}
}

// watchContext arranges for a context cancellation to wake every
// parked caller so the cancelled one can observe it. The returned stop
// function must be called before the blocking operation returns.
func (r *Resource) watchContext(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			// Broadcast without the lock is safe for sync.Cond.
			r.cond.Broadcast()
		case <-done:
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// read drains up to len(p) bytes. Caller capability checks happen in
// Handle. The wait loop tolerates spurious wakeups: every pass
// re-checks the predicate under the lock.
func (r *Resource) read(ctx context.Context, p []byte, nonblocking bool) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	stop := r.watchContext(ctx)
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.buf.filled == 0 && r.writers > 0 {
		if r.closing {
			return 0, errors.ErrGone
		}
		if nonblocking {
			r.stats.WouldBlock()
			if r.metrics != nil {
				r.metrics.recordWouldBlock()
			}
			return 0, errors.ErrWouldBlock
		}
		if ctx.Err() != nil {
			r.stats.Interrupt()
			return 0, errors.ErrInterrupted
		}
		r.cond.Wait()
	}

	wasFull := r.buf.full()
	n := r.buf.readSome(p)
	if n == 0 {
		// Empty with no writers left: end-of-input, not an error
		// condition of the resource.
		return 0, io.EOF
	}

	if wasFull {
		// Space appeared; writers blocked on a full buffer re-check.
		r.cond.Broadcast()
		r.stats.Broadcast()
	}
	r.notifyWriteLocked()

	r.stats.Read(n)
	r.stats.UpdateFill(int64(r.buf.filled))
	if r.metrics != nil {
		r.metrics.recordRead(n, r.buf.filled)
	}
	return n, nil
}

// write appends all of p, chunking through the free space and waiting
// whenever the buffer is full. A partial write already delivered is
// kept; the returned count must be inspected alongside the error.
func (r *Resource) write(ctx context.Context, p []byte, nonblocking bool) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	stop := r.watchContext(ctx)
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	written := 0
	for written < len(p) {
		for r.buf.full() {
			if r.closing {
				return written, errors.ErrGone
			}
			if nonblocking {
				r.stats.WouldBlock()
				if r.metrics != nil {
					r.metrics.recordWouldBlock()
				}
				return written, errors.ErrWouldBlock
			}
			if ctx.Err() != nil {
				r.stats.Interrupt()
				return written, errors.ErrInterrupted
			}
			r.cond.Wait()
		}
		if r.closing {
			return written, errors.ErrGone
		}

		wasEmpty := r.buf.filled == 0
		n := r.buf.writeSome(p[written:])
		written += n

		if wasEmpty && n > 0 {
			// Data appeared; readers blocked on an empty buffer
			// re-check.
			r.cond.Broadcast()
			r.stats.Broadcast()
		}
		r.notifyReadLocked()

		r.stats.Write(n)
		r.stats.UpdateFill(int64(r.buf.filled))
		if r.metrics != nil {
			r.metrics.recordWrite(n, r.buf.filled)
		}
	}
	return written, nil
}

// resize delegates to the buffer and refreshes write readiness on
// growth (space appeared). Capability checks happen in Handle.
func (r *Resource) resize(capacity int) error {
	if capacity < 0 || capacity > r.maxCapacity {
		return errors.ErrInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return errors.ErrGone
	}

	current := r.buf.capacity()
	if capacity == current {
		return nil
	}

	if capacity > current {
		wasFull := r.buf.full()
		if err := r.buf.resize(capacity); err != nil {
			return err
		}
		if wasFull {
			r.cond.Broadcast()
			r.stats.Broadcast()
		}
		r.notifyWriteLocked()
	} else if err := r.buf.resize(capacity); err != nil {
		return err
	}

	r.stats.Resize()
	if r.metrics != nil {
		r.metrics.setCapacity(capacity)
		r.metrics.setFill(r.buf.filled)
	}
	r.logger.Debug("buffer resized", "capacity", capacity)
	return nil
}

// clear truncates the buffer to empty and refreshes write readiness.
func (r *Resource) clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return errors.ErrGone
	}

	if r.buf.full() {
		r.cond.Broadcast()
		r.stats.Broadcast()
	}
	r.buf.clear()
	r.notifyWriteLocked()

	r.stats.Clear()
	r.stats.UpdateFill(0)
	if r.metrics != nil {
		r.metrics.setFill(0)
	}
	return nil
}
