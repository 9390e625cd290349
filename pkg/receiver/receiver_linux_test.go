//go:build linux

package receiver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlumo/frame-shm/pkg/transport"
)

const (
	testWidth  = 4
	testHeight = 2
)

func uniqueBase(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/frameshm_receiver_%d_%d", os.Getpid(), time.Now().UnixNano())
}

func transportOptions(base string, owner bool) transport.Options {
	return transport.Options{
		BaseName:      base,
		EventBaseName: base + "_ev",
		Channel:       "program",
		Width:         testWidth,
		Height:        testHeight,
		Owner:         owner,
		DisableEvent:  true,
		RetryInterval: 10 * time.Millisecond,
	}
}

func testFrame(seed byte, size int) []byte {
	f := make([]byte, size)
	for i := range f {
		f[i] = seed
	}
	return f
}

func newPair(t *testing.T) (*transport.Channel, *Receiver) {
	t.Helper()
	base := uniqueBase(t)

	producer, err := transport.Open(transportOptions(base, true))
	require.NoError(t, err)
	t.Cleanup(func() { producer.Close() })

	r, err := New(Options{
		Transport:  transportOptions(base, false),
		QueueDepth: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return producer, r
}

func TestReceiverDrainsPublishedFrames(t *testing.T) {
	producer, r := newPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	want := testFrame(42, producer.FrameSize())
	require.NoError(t, producer.Publish(want))

	buf, err := r.Next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, buf.B)
	Recycle(buf)

	s := r.Stats()
	assert.Equal(t, uint64(1), s.FramesReceived)
	assert.Zero(t, s.FramesDropped)

	cancel()
	require.NoError(t, <-done)
}

func TestNextTimesOutWhenIdle(t *testing.T) {
	_, r := newPair(t)

	_, err := r.Next(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	_, r := newPair(t)

	// Depth 2: the third enqueue evicts the first.
	for _, seed := range []byte{1, 2, 3} {
		buf := r.frameBuffer()
		copy(buf.B, testFrame(seed, r.ch.FrameSize()))
		r.enqueue(buf)
	}

	assert.Equal(t, uint64(1), r.Stats().FramesDropped)

	buf, err := r.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(2), buf.B[0], "the oldest frame was the one evicted")
	Recycle(buf)

	buf, err = r.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(3), buf.B[0])
	Recycle(buf)
}

func TestHealthEndpoints(t *testing.T) {
	producer, r := newPair(t)

	probe := func(path string) int {
		rec := httptest.NewRecorder()
		r.Health().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, probe("/live"), "attached means live")
	assert.Equal(t, http.StatusServiceUnavailable, probe("/ready"), "no frame published yet")

	require.NoError(t, producer.Publish(testFrame(7, producer.FrameSize())))
	assert.Equal(t, http.StatusOK, probe("/ready"), "fresh frame means ready")
}

func TestPauseProducerRoundTrip(t *testing.T) {
	producer, r := newPair(t)

	// Model the producer's per-frame pause poll.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				if producer.CheckPauseRequested() {
					producer.ConfirmPaused()
				} else {
					producer.ClearPaused()
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.PauseProducer(ctx))
	assert.True(t, r.ch.ProducerPaused())

	r.ResumeProducer()
	assert.Eventually(t, func() bool { return !r.ch.ProducerPaused() },
		time.Second, 5*time.Millisecond)
}

func TestPauseProducerTimesOutWithoutAck(t *testing.T) {
	_, r := newPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.PauseProducer(ctx), context.DeadlineExceeded)
}
