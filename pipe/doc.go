// Package pipe implements a synchronized bounded byte buffer with
// blocking concurrent readers and writers, writer-lifetime tracking,
// resize and clear control operations, and dual-mode readiness
// notification.
//
// # Resource and handles
//
// A Resource is created with New and destroyed with Close. Callers
// never touch the buffer directly; they open capability-scoped handles:
//
//	r, err := pipe.New(64)
//	w, err := r.Open(pipe.AccessWrite)
//	rd, err := r.Open(pipe.AccessRead)
//
// Handles implement io.Reader and io.Writer. Reads drain from the
// front of the buffer, writes append at the fill level, and content is
// always left-justified. A read on an empty buffer blocks while any
// write-capable handle remains open; once the last writer closes,
// readers drain whatever is buffered and then observe io.EOF. Blocking
// variants taking a context (ReadContext, WriteContext, PollWait)
// surface cancellation as errors.ErrInterrupted. Handles switched to
// non-blocking mode return errors.ErrWouldBlock instead of waiting.
//
// # Readiness
//
// Readiness is one predicate observed two ways. Poll answers the
// level-triggered question (readable iff data is buffered or no
// writers remain, writable iff space remains); PollWait blocks until a
// requested direction becomes ready. Subscribe returns an
// edge-triggered Subscription that receives an Event with the current
// magnitude (bytes buffered, or bytes of free space) after every
// relevant state transition. Both views are computed from the same
// state under the same lock, so they always agree.
//
// # Synchronization
//
// One lock guards all resource state. Blocked callers park on a single
// broadcast condition and re-check their own predicate after every
// wakeup; no fairness is guaranteed among waiters released by the same
// broadcast. Close wakes everything so that no caller is left blocked
// past teardown; they observe errors.ErrGone.
package pipe
