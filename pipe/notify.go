package pipe

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/c360/echopipe/errors"
)

// Ready is a level-triggered readiness mask.
type Ready uint8

const (
	// Readable means a read would not block: data is buffered, or no
	// writers remain (end-of-input reads return immediately).
	Readable Ready = 1 << iota
	// Writable means a write of at least one byte would not block.
	Writable
)

// Has reports whether the mask includes all directions in m.
func (rd Ready) Has(m Ready) bool { return rd&m == m }

func (rd Ready) String() string {
	switch {
	case rd.Has(Readable | Writable):
		return "readable|writable"
	case rd.Has(Readable):
		return "readable"
	case rd.Has(Writable):
		return "writable"
	default:
		return "none"
	}
}

// Direction selects one side of the buffer for an edge-triggered
// subscription.
type Direction string

const (
	// DirectionRead subscribes to data-available transitions.
	DirectionRead Direction = "read"
	// DirectionWrite subscribes to space-available transitions.
	DirectionWrite Direction = "write"
)

// Event records one state transition observed by a subscription.
// Ready carries the magnitude at the time of the transition: bytes
// available to read, or bytes of free space.
type Event struct {
	Direction Direction `json:"direction"`
	Ready     int64     `json:"ready"`
	EOF       bool      `json:"eof,omitempty"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"ts"`
}

// readyLocked is the single readiness predicate, shared by Poll,
// PollWait and subscription events. Caller holds the lock (shared is
// enough).
func (r *Resource) readyLocked() Ready {
	var rd Ready
	if r.buf.filled > 0 || r.writers == 0 {
		rd |= Readable
	}
	if !r.buf.full() {
		rd |= Writable
	}
	return rd
}

// Poll answers the level-triggered readiness question for the
// requested directions right now.
func (r *Resource) Poll(mask Ready) Ready {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readyLocked() & mask
}

// PollWait blocks until at least one requested direction is ready and
// returns the ready subset. It fails with ErrGone once teardown
// begins and ErrInterrupted when ctx ends first.
func (r *Resource) PollWait(ctx context.Context, mask Ready) (Ready, error) {
	if mask == 0 {
		return 0, errors.WrapInvalid(errors.ErrInvalid, "Resource", "PollWait", "validate mask")
	}

	stop := r.watchContext(ctx)
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if rd := r.readyLocked() & mask; rd != 0 {
			return rd, nil
		}
		if r.closing {
			return 0, errors.ErrGone
		}
		if ctx.Err() != nil {
			r.stats.Interrupt()
			return 0, errors.ErrInterrupted
		}
		r.cond.Wait()
	}
}

// Subscription is an edge-triggered readiness feed for one direction.
// Every relevant completed state transition enqueues an Event and
// signals C. Pending answers the point-in-time magnitude under the
// same lock Poll uses, so the two views always agree.
type Subscription struct {
	id  string
	dir Direction
	r   *Resource

	mu     sync.Mutex
	events *queue.Queue
	notify chan struct{}
	closed bool
}

// Subscribe attaches an edge-triggered subscription for one direction.
// It fails with ErrGone once teardown has begun.
func (r *Resource) Subscribe(dir Direction) (*Subscription, error) {
	if dir != DirectionRead && dir != DirectionWrite {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Resource", "Subscribe", "validate direction")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return nil, errors.ErrGone
	}

	s := &Subscription{
		id:     uuid.NewString(),
		dir:    dir,
		r:      r,
		events: queue.New(),
		notify: make(chan struct{}, 1),
	}
	if dir == DirectionRead {
		r.readSubs[s.id] = s
	} else {
		r.writeSubs[s.id] = s
	}
	if r.metrics != nil {
		r.metrics.setSubscriptions(len(r.readSubs) + len(r.writeSubs))
	}
	return s, nil
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Direction returns the subscribed direction.
func (s *Subscription) Direction() Direction { return s.dir }

// C signals when events are queued. The channel is closed when the
// subscription ends (Close, or resource teardown); drain remaining
// events with Next.
func (s *Subscription) C() <-chan struct{} { return s.notify }

// Next pops the oldest queued event. ok is false when the queue is
// empty.
func (s *Subscription) Next() (ev Event, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events.Length() == 0 {
		return Event{}, false
	}
	return s.events.Remove().(Event), true
}

// Pending answers the current magnitude for the subscribed direction:
// bytes available to read (with an end-of-input flag once no writers
// remain), or bytes of free space.
func (s *Subscription) Pending() (n int64, eof bool) {
	s.r.mu.RLock()
	defer s.r.mu.RUnlock()
	if s.dir == DirectionRead {
		return int64(s.r.buf.filled), s.r.writers == 0
	}
	return int64(s.r.buf.space()), false
}

// Close detaches the subscription. It is idempotent and safe to call
// while the owning resource is tearing down.
func (s *Subscription) Close() {
	r := s.r
	r.mu.Lock()
	delete(r.readSubs, s.id)
	delete(r.writeSubs, s.id)
	if r.metrics != nil {
		r.metrics.setSubscriptions(len(r.readSubs) + len(r.writeSubs))
	}
	r.mu.Unlock()

	s.detach()
}

// detach ends the feed. Safe to call more than once; callers must not
// hold s.mu.
func (s *Subscription) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// push enqueues an event and signals the feed. No-op after detach.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events.Add(ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// notifyReadLocked fires read-direction subscriptions with the current
// magnitude. Caller holds the exclusive lock.
func (r *Resource) notifyReadLocked() {
	if len(r.readSubs) == 0 {
		return
	}
	r.seq++
	ev := Event{
		Direction: DirectionRead,
		Ready:     int64(r.buf.filled),
		EOF:       r.writers == 0,
		Seq:       r.seq,
		At:        time.Now(),
	}
	for _, s := range r.readSubs {
		s.push(ev)
	}
	r.stats.Notify()
	if r.metrics != nil {
		r.metrics.recordEvent()
	}
}

// notifyWriteLocked fires write-direction subscriptions with the
// current free space. Caller holds the exclusive lock.
func (r *Resource) notifyWriteLocked() {
	if len(r.writeSubs) == 0 {
		return
	}
	r.seq++
	ev := Event{
		Direction: DirectionWrite,
		Ready:     int64(r.buf.space()),
		Seq:       r.seq,
		At:        time.Now(),
	}
	for _, s := range r.writeSubs {
		s.push(ev)
	}
	r.stats.Notify()
	if r.metrics != nil {
		r.metrics.recordEvent()
	}
}
