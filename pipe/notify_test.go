package pipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/echopipe/errors"
)

func TestPollLevelTriggered(t *testing.T) {
	r := newTestResource(t, 4)

	// No writers: readable (end-of-input) and writable.
	assert.Equal(t, Readable|Writable, r.Poll(Readable|Writable))

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	// Writer open, empty buffer: not readable, writable.
	assert.Equal(t, Ready(0), r.Poll(Readable))
	assert.Equal(t, Writable, r.Poll(Writable))

	_, err = w.Write([]byte("AB"))
	require.NoError(t, err)
	assert.Equal(t, Readable|Writable, r.Poll(Readable|Writable))

	_, err = w.Write([]byte("CD"))
	require.NoError(t, err)

	// Full: readable only.
	assert.Equal(t, Readable, r.Poll(Readable|Writable))
	assert.Equal(t, Ready(0), r.Poll(Writable))
}

func TestPollMaskRespected(t *testing.T) {
	r := newTestResource(t, 4)
	// Readiness outside the requested mask is never reported.
	assert.Equal(t, Ready(0), r.Poll(0))
	assert.Equal(t, Readable, r.Poll(Readable))
}

func TestPollWaitReturnsWhenReady(t *testing.T) {
	r := newTestResource(t, 4)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	done := make(chan Ready, 1)
	go func() {
		rd, err := r.PollWait(context.Background(), Readable)
		if err != nil {
			done <- 0
			return
		}
		done <- rd
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = w.Write([]byte("X"))
	require.NoError(t, err)

	select {
	case rd := <-done:
		assert.Equal(t, Readable, rd)
	case <-time.After(2 * time.Second):
		t.Fatal("poll waiter was not woken by a write")
	}
}

func TestPollWaitValidatesMask(t *testing.T) {
	r := newTestResource(t, 4)
	_, err := r.PollWait(context.Background(), 0)
	assert.True(t, errors.IsInvalid(err))
}

func TestPollWaitInterrupted(t *testing.T) {
	r := newTestResource(t, 4)

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = r.PollWait(ctx, Readable)
	assert.ErrorIs(t, err, errors.ErrInterrupted)
}

func TestSubscribeValidatesDirection(t *testing.T) {
	r := newTestResource(t, 4)
	_, err := r.Subscribe(Direction("sideways"))
	assert.True(t, errors.IsInvalid(err))
}

func TestSubscriptionReadEvents(t *testing.T) {
	r := newTestResource(t, 8)

	sub, err := r.Subscribe(DirectionRead)
	require.NoError(t, err)
	defer sub.Close()
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, DirectionRead, sub.Direction())

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case <-sub.C():
	case <-time.After(2 * time.Second):
		t.Fatal("write did not signal the read subscription")
	}

	ev, ok := sub.Next()
	require.True(t, ok)
	assert.Equal(t, DirectionRead, ev.Direction)
	assert.Equal(t, int64(5), ev.Ready)
	assert.False(t, ev.EOF)
	assert.NotZero(t, ev.Seq)

	// Last writer closing fires an end-of-input event.
	require.NoError(t, w.Close())

	select {
	case <-sub.C():
	case <-time.After(2 * time.Second):
		t.Fatal("writer close did not signal the read subscription")
	}

	ev, ok = sub.Next()
	require.True(t, ok)
	assert.True(t, ev.EOF)
	assert.Equal(t, int64(5), ev.Ready)
}

func TestSubscriptionWriteEvents(t *testing.T) {
	r := newTestResource(t, 4)

	sub, err := r.Subscribe(DirectionWrite)
	require.NoError(t, err)
	defer sub.Close()

	h, err := r.Open(AccessReadWrite)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Write([]byte("ABCD"))
	require.NoError(t, err)

	// A read frees space and fires a write-direction event.
	_, err = h.Read(make([]byte, 2))
	require.NoError(t, err)

	select {
	case <-sub.C():
	case <-time.After(2 * time.Second):
		t.Fatal("read did not signal the write subscription")
	}

	ev, ok := sub.Next()
	require.True(t, ok)
	assert.Equal(t, DirectionWrite, ev.Direction)
	assert.Equal(t, int64(2), ev.Ready)
	assert.False(t, ev.EOF)
}

func TestSubscriptionEventSequenceMonotonic(t *testing.T) {
	r := newTestResource(t, 16)

	sub, err := r.Subscribe(DirectionRead)
	require.NoError(t, err)
	defer sub.Close()

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
	}

	var last uint64
	for i := 0; i < 3; i++ {
		ev, ok := sub.Next()
		require.True(t, ok)
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
	}
	_, ok := sub.Next()
	assert.False(t, ok)
}

func TestPendingAgreesWithPoll(t *testing.T) {
	r := newTestResource(t, 4)

	rsub, err := r.Subscribe(DirectionRead)
	require.NoError(t, err)
	defer rsub.Close()
	wsub, err := r.Subscribe(DirectionWrite)
	require.NoError(t, err)
	defer wsub.Close()

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer w.Close()

	check := func() {
		n, eof := rsub.Pending()
		readable := r.Poll(Readable) != 0
		assert.Equal(t, readable, n > 0 || eof,
			"level-triggered poll and read magnitude disagree")

		space, _ := wsub.Pending()
		writable := r.Poll(Writable) != 0
		assert.Equal(t, writable, space > 0,
			"level-triggered poll and write magnitude disagree")
	}

	check()
	_, err = w.Write([]byte("AB"))
	require.NoError(t, err)
	check()
	_, err = w.Write([]byte("CD"))
	require.NoError(t, err)
	check()
	require.NoError(t, w.Clear())
	check()
}

func TestSubscriptionPendingEOF(t *testing.T) {
	r := newTestResource(t, 4)

	sub, err := r.Subscribe(DirectionRead)
	require.NoError(t, err)
	defer sub.Close()

	n, eof := sub.Pending()
	assert.Zero(t, n)
	assert.True(t, eof, "no writers were ever open")

	w, err := r.Open(AccessWrite)
	require.NoError(t, err)
	_, eof = sub.Pending()
	assert.False(t, eof)

	require.NoError(t, w.Close())
	_, eof = sub.Pending()
	assert.True(t, eof)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	r := newTestResource(t, 4)

	sub, err := r.Subscribe(DirectionRead)
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	// Detached: further writes do not panic and do not queue events.
	h, err := r.Open(AccessWrite)
	require.NoError(t, err)
	defer h.Close()
	_, err = h.Write([]byte("x"))
	require.NoError(t, err)

	_, ok := sub.Next()
	assert.False(t, ok)
}

func TestResourceCloseEndsSubscriptions(t *testing.T) {
	r := newTestResource(t, 4)

	sub, err := r.Subscribe(DirectionRead)
	require.NoError(t, err)

	require.NoError(t, r.Close())

	select {
	case _, open := <-sub.C():
		assert.False(t, open, "feed channel should be closed by teardown")
	case <-time.After(time.Second):
		t.Fatal("teardown did not end the subscription feed")
	}

	// Detaching after teardown is still safe.
	sub.Close()

	_, err = r.Subscribe(DirectionRead)
	assert.ErrorIs(t, err, errors.ErrGone)
}

func TestReadyString(t *testing.T) {
	assert.Equal(t, "none", Ready(0).String())
	assert.Equal(t, "readable", Readable.String())
	assert.Equal(t, "writable", Writable.String())
	assert.Equal(t, "readable|writable", (Readable | Writable).String())
}
