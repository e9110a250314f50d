package pipe

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/echopipe/errors"
)

func newTestResource(t *testing.T, capacity int, options ...Option) *Resource {
	t.Helper()
	r, err := New(capacity, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNewValidatesCapacity(t *testing.T) {
	_, err := New(-1)
	assert.True(t, errors.IsInvalid(err))

	_, err = New(100, WithMaxCapacity(10))
	assert.True(t, errors.IsInvalid(err))

	r, err := New(0)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Capacity())
	_ = r.Close()
}

func TestOpenRequiresAccess(t *testing.T) {
	r := newTestResource(t, 8)
	_, err := r.Open(0)
	assert.True(t, errors.IsInvalid(err))
}

func TestReadWriteRoundTrip(t *testing.T) {
	r := newTestResource(t, 16)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	rd, err := r.Open(AccessRead)
	require.NoError(t, err)

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, r.Buffered())

	p := make([]byte, 16)
	n, err = rd.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(p[:n]))
	assert.Equal(t, 0, r.Buffered())

	require.NoError(t, w.Close())
	require.NoError(t, rd.Close())
}

func TestScenarioCapacityFour(t *testing.T) {
	r := newTestResource(t, 4)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()
	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	w.SetNonblocking(true)

	n, err := w.Write([]byte("ABCD"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = w.Write([]byte("E"))
	assert.ErrorIs(t, err, errors.ErrWouldBlock)
	assert.Equal(t, 0, n)

	p := make([]byte, 2)
	n, err = rd.Read(p)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, "AB", string(p))

	assert.Equal(t, 2, r.Buffered())
	assert.Equal(t, 2, r.Space())

	n, err = w.Write([]byte("EF"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p = make([]byte, 4)
	n, err = rd.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "CDEF", string(p[:n]))
}

func TestBlockingReadWaitsForData(t *testing.T) {
	r := newTestResource(t, 8)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()
	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	got := make(chan string, 1)
	go func() {
		p := make([]byte, 8)
		n, err := rd.Read(p)
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- string(p[:n])
	}()

	// Give the reader a chance to park.
	time.Sleep(20 * time.Millisecond)

	_, err = w.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, "ping", s)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked reader was not woken by a write")
	}
}

func TestBlockingWriteWaitsForSpace(t *testing.T) {
	r := newTestResource(t, 2)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()
	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	_, err = w.Write([]byte("AB"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		// Needs two chunks: blocks until the reader frees space.
		_, err := w.Write([]byte("CD"))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)

	p := make([]byte, 4)
	n, err := rd.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "AB", string(p[:n]))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked writer was not woken by a read")
	}

	n, err = rd.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "CD", string(p[:n]))
}

func TestReadEOFAfterLastWriterCloses(t *testing.T) {
	r := newTestResource(t, 8)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	done := make(chan error, 1)
	go func() {
		p := make([]byte, 8)
		_, err := rd.Read(p)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked reader was not woken by last writer close")
	}
}

func TestReadNoWritersImmediateEOF(t *testing.T) {
	r := newTestResource(t, 8)

	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	// No writer has ever been open: end-of-input immediately, not a
	// hang.
	n, err := rd.Read(make([]byte, 4))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadDrainsBeforeEOF(t *testing.T) {
	r := newTestResource(t, 8)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	_, err = w.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	p := make([]byte, 8)
	n, err := rd.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(p[:n]))

	_, err = rd.Read(p)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNonblockingReadEmpty(t *testing.T) {
	r := newTestResource(t, 8)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()
	rd.SetNonblocking(true)

	_, err = rd.Read(make([]byte, 4))
	assert.ErrorIs(t, err, errors.ErrWouldBlock)
}

func TestNonblockingPartialWrite(t *testing.T) {
	r := newTestResource(t, 2)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()
	w.SetNonblocking(true)

	// Two bytes fit; the rest would block. The partial write is kept.
	n, err := w.Write([]byte("ABCD"))
	assert.ErrorIs(t, err, errors.ErrWouldBlock)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, r.Buffered())
}

func TestReadContextInterrupted(t *testing.T) {
	r := newTestResource(t, 8)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()
	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := rd.ReadContext(ctx, make([]byte, 4))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrInterrupted)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled reader did not return")
	}
}

func TestWriteContextInterrupted(t *testing.T) {
	r := newTestResource(t, 2)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("AB"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	n, err := w.WriteContext(ctx, []byte("CD"))
	assert.ErrorIs(t, err, errors.ErrInterrupted)
	assert.Equal(t, 0, n)
}

func TestCloseWakesBlockedWriters(t *testing.T) {
	r := newTestResource(t, 2)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)

	// Fill the buffer; nothing ever reads, so both waiters below stay
	// parked until teardown.
	_, err = w.Write([]byte("AB"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := w.Write([]byte("CD"))
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := r.PollWait(context.Background(), Writable)
		results <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Close())

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown left a blocked caller waiting")
	}

	close(results)
	for err := range results {
		assert.ErrorIs(t, err, errors.ErrGone)
	}
}

func TestCloseWakesBlockedReaders(t *testing.T) {
	r := newTestResource(t, 2)

	// Keep a writer open so readers block instead of seeing EOF.
	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	var wg sync.WaitGroup
	results := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := rd.Read(make([]byte, 2))
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := r.PollWait(context.Background(), Readable)
		results <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.Close())

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown left a blocked reader waiting")
	}

	close(results)
	for err := range results {
		assert.ErrorIs(t, err, errors.ErrGone)
	}
}

func TestOpenAfterCloseFails(t *testing.T) {
	r := newTestResource(t, 8)
	require.NoError(t, r.Close())

	_, err := r.Open(AccessRead)
	assert.ErrorIs(t, err, errors.ErrGone)
	_, err = r.Open(AccessWrite)
	assert.ErrorIs(t, err, errors.ErrGone)

	// Close is idempotent.
	require.NoError(t, r.Close())
}

func TestWriterCountSaturation(t *testing.T) {
	r := newTestResource(t, 8)

	r.mu.Lock()
	r.writers = MaxWriters
	r.mu.Unlock()

	_, err := r.Open(AccessWrite)
	assert.ErrorIs(t, err, errors.ErrWriterLimit)

	r.mu.Lock()
	r.writers = 0
	r.mu.Unlock()
}

func TestHandleCapabilities(t *testing.T) {
	r := newTestResource(t, 8)

	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()
	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	_, err = rd.Write([]byte("A"))
	assert.ErrorIs(t, err, errors.ErrPermission)
	assert.ErrorIs(t, rd.Resize(16), errors.ErrPermission)
	assert.ErrorIs(t, rd.Clear(), errors.ErrPermission)

	_, err = w.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errors.ErrPermission)

	assert.Equal(t, "r", rd.Access().String())
	assert.Equal(t, "w", w.Access().String())
}

func TestClosedHandleOperations(t *testing.T) {
	r := newTestResource(t, 8)

	h, err := r.Open(AccessReadWrite)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close()) // idempotent

	_, err = h.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = h.Write([]byte("A"))
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.ErrorIs(t, h.Resize(4), errors.ErrClosed)
	assert.ErrorIs(t, h.Clear(), errors.ErrClosed)
}

func TestResizeSemantics(t *testing.T) {
	r := newTestResource(t, 4)

	h, err := r.Open(AccessReadWrite)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte("ABC"))
	require.NoError(t, err)

	// Shrink below fill level fails and changes nothing.
	err = h.Resize(2)
	assert.ErrorIs(t, err, errors.ErrBusy)
	assert.Equal(t, 4, r.Capacity())
	assert.Equal(t, 3, r.Buffered())

	// Growth preserves content.
	require.NoError(t, h.Resize(8))
	assert.Equal(t, 8, r.Capacity())

	// Shrink back above the fill level restores the original capacity.
	require.NoError(t, h.Resize(4))
	assert.Equal(t, 4, r.Capacity())

	p := make([]byte, 4)
	n, err := h.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(p[:n]))

	// Out of range.
	assert.True(t, errors.IsInvalid(h.Resize(-1)))
	assert.True(t, errors.IsInvalid(h.Resize(DefaultMaxCapacity+1)))
}

func TestResizeGrowthWakesBlockedWriter(t *testing.T) {
	r := newTestResource(t, 2)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()
	ctl, err := r.Open(AccessReadWrite)
	require.NoError(t, err)
	defer ctl.Close()

	_, err = w.Write([]byte("AB"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("CD"))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ctl.Resize(8))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("growth did not wake the blocked writer")
	}
	assert.Equal(t, 4, r.Buffered())
}

func TestClearSemantics(t *testing.T) {
	r := newTestResource(t, 4)

	h, err := r.Open(AccessReadWrite)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte("ABCD"))
	require.NoError(t, err)

	require.NoError(t, h.Clear())
	assert.Equal(t, 0, r.Buffered())
	assert.Equal(t, 4, r.Capacity())

	// Idempotent: a second clear yields the same empty state.
	require.NoError(t, h.Clear())
	assert.Equal(t, 0, r.Buffered())
}

func TestClearWakesBlockedWriter(t *testing.T) {
	r := newTestResource(t, 2)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("AB"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("CD"))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Clear())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("clear of a full buffer did not wake the blocked writer")
	}
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	const (
		producers = 4
		perWriter = 1000
	)

	r := newTestResource(t, 16)

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		w, err := r.Open(AccessWrite)
		require.NoError(t, err)

		wg.Add(1)
		go func(h *Handle, tag byte) {
			defer wg.Done()
			defer h.Close()
			payload := make([]byte, perWriter)
			for j := range payload {
				payload[j] = tag
			}
			if _, err := h.Write(payload); err != nil {
				t.Errorf("producer %c: %v", tag, err)
			}
		}(w, byte('A'+i))
	}

	rd, err := r.Open(AccessRead)
	require.NoError(t, err)
	defer rd.Close()

	counts := make(map[byte]int)
	total := 0
	p := make([]byte, 32)
	for {
		n, err := rd.Read(p)
		for _, b := range p[:n] {
			counts[b]++
		}
		total += n
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	wg.Wait()

	// No byte duplicated or lost under the lock serialization.
	assert.Equal(t, producers*perWriter, total)
	for i := 0; i < producers; i++ {
		assert.Equal(t, perWriter, counts[byte('A'+i)], "producer %c", byte('A'+i))
	}
}

func TestZeroLengthIO(t *testing.T) {
	r := newTestResource(t, 4)

	h, err := r.Open(AccessReadWrite)
	require.NoError(t, err)
	defer h.Close()

	n, err := h.Read(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = h.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStatisticsTrackActivity(t *testing.T) {
	r := newTestResource(t, 8)

	h, err := r.Open(AccessReadWrite)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = h.Read(make([]byte, 5))
	require.NoError(t, err)

	h.SetNonblocking(true)
	_, err = h.Read(make([]byte, 1))
	require.ErrorIs(t, err, errors.ErrWouldBlock)

	s := r.Stats().Summary()
	assert.Equal(t, int64(1), s.Writes)
	assert.Equal(t, int64(1), s.Reads)
	assert.Equal(t, int64(5), s.BytesWritten)
	assert.Equal(t, int64(5), s.BytesRead)
	assert.Equal(t, int64(1), s.WouldBlocks)
	assert.Equal(t, int64(5), s.MaxFill)
	assert.Equal(t, int64(0), s.Fill)
}
