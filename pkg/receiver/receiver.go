// Package receiver drains a shared-memory frame channel into a bounded
// hand-off queue for a downstream renderer, with a health surface and
// pause-handshake conveniences.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/heptiolabs/healthcheck"
	"github.com/valyala/bytebufferpool"

	"github.com/streamlumo/frame-shm/internal/logging"
	"github.com/streamlumo/frame-shm/pkg/transport"
)

const (
	defaultQueueDepth      = 8
	defaultFreshnessWindow = 2 * time.Second
	defaultWaitTimeout     = 100 * time.Millisecond

	pausePollInterval = 10 * time.Millisecond
)

// ErrNoFrame is returned by Next when no frame arrives within the timeout.
var ErrNoFrame = errors.New("receiver: no frame within timeout")

// Options configures a Receiver.
type Options struct {
	// Transport configures the underlying channel endpoint.
	Transport transport.Options
	// QueueDepth bounds the hand-off queue. When full, the oldest queued
	// frame is discarded, matching the transport's lossy contract.
	QueueDepth uint64
	// FreshnessWindow bounds how old the last publish may be for the
	// readiness check to pass.
	FreshnessWindow time.Duration
	// WaitTimeout caps each wait for the producer's wakeup signal before
	// the drain loop re-checks its context.
	WaitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueDepth == 0 {
		o.QueueDepth = defaultQueueDepth
	}
	if o.FreshnessWindow <= 0 {
		o.FreshnessWindow = defaultFreshnessWindow
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = defaultWaitTimeout
	}
	return o
}

// Stats is a point-in-time tally of receiver activity.
type Stats struct {
	FramesReceived uint64
	FramesDropped  uint64
	QueueLen       uint64
}

// Receiver owns the consumer end of one channel. Run drains it; Next hands
// frames to the renderer.
type Receiver struct {
	opts Options
	ch   *transport.Channel
	ring *queuepkg.RingBuffer
	log  *logging.Logger

	health healthcheck.Handler

	received atomic.Uint64
	dropped  atomic.Uint64
}

// New opens the consumer endpoint. An attach failure is not fatal; Run
// retries on the transport's cadence.
func New(opts Options) (*Receiver, error) {
	opts = opts.withDefaults()
	ch, err := transport.Open(opts.Transport)
	if ch == nil {
		return nil, err
	}
	r := &Receiver{
		opts: opts,
		ch:   ch,
		ring: queuepkg.NewRingBuffer(opts.QueueDepth),
		log:  logging.New("receiver/"+opts.Transport.Channel, nil),
	}
	if err != nil {
		r.log.Warnf("initial attach failed, will retry: %v", err)
	}

	h := healthcheck.NewHandler()
	h.AddLivenessCheck("channel-attached", func() error {
		if !r.ch.IsConnected() {
			return errors.New("channel not attached")
		}
		return nil
	})
	h.AddReadinessCheck("frame-freshness", r.checkFreshness)
	r.health = h
	return r, nil
}

func (r *Receiver) checkFreshness() error {
	md, err := r.ch.Metadata()
	if err != nil {
		return err
	}
	if md.LastWriteTimestampNs == 0 {
		return errors.New("no frame published yet")
	}
	age := time.Duration(uint64(time.Now().UnixNano()) - md.LastWriteTimestampNs)
	if age > r.opts.FreshnessWindow {
		return fmt.Errorf("last frame is %s old", age.Round(time.Millisecond))
	}
	return nil
}

// Health exposes the liveness/readiness surface; mount it on an HTTP server.
func (r *Receiver) Health() healthcheck.Handler {
	return r.health
}

// Channel exposes the underlying endpoint, e.g. for metrics registration.
func (r *Receiver) Channel() *transport.Channel {
	return r.ch
}

// Run attaches (retrying until ctx is done) and drains frames into the
// hand-off queue until ctx is done. It returns nil on a clean shutdown.
func (r *Receiver) Run(ctx context.Context) error {
	if err := r.ch.Attach(ctx); err != nil {
		return fmt.Errorf("receiver: attach: %w", err)
	}
	r.log.Infof("attached to channel %q", r.ch.Name())

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r.ch.WaitForFrame(r.opts.WaitTimeout)

		for {
			buf := r.frameBuffer()
			fresh, err := r.ch.AcquireLatest(buf.B)
			if err != nil {
				bytebufferpool.Put(buf)
				return fmt.Errorf("receiver: acquire: %w", err)
			}
			if !fresh {
				bytebufferpool.Put(buf)
				break
			}
			r.received.Add(1)
			r.enqueue(buf)
		}
	}
}

func (r *Receiver) frameBuffer() *bytebufferpool.ByteBuffer {
	buf := bytebufferpool.Get()
	size := r.ch.FrameSize()
	if cap(buf.B) < size {
		buf.B = make([]byte, size)
	} else {
		buf.B = buf.B[:size]
	}
	return buf
}

// enqueue offers buf to the ring; when full it discards the oldest queued
// frame and counts the loss.
func (r *Receiver) enqueue(buf *bytebufferpool.ByteBuffer) {
	for {
		ok, err := r.ring.Offer(buf)
		if err != nil {
			bytebufferpool.Put(buf)
			return
		}
		if ok {
			return
		}
		r.dropped.Add(1)
		if old, err := r.ring.Poll(time.Millisecond); err == nil {
			bytebufferpool.Put(old.(*bytebufferpool.ByteBuffer))
		}
	}
}

// Next returns the oldest queued frame, waiting up to timeout. The caller
// returns the buffer through Recycle once done with it.
func (r *Receiver) Next(timeout time.Duration) (*bytebufferpool.ByteBuffer, error) {
	v, err := r.ring.Poll(timeout)
	if err != nil {
		if errors.Is(err, queuepkg.ErrTimeout) {
			return nil, ErrNoFrame
		}
		return nil, err
	}
	return v.(*bytebufferpool.ByteBuffer), nil
}

// Recycle hands a frame buffer back to the pool.
func Recycle(buf *bytebufferpool.ByteBuffer) {
	bytebufferpool.Put(buf)
}

// Stats returns the current tallies.
func (r *Receiver) Stats() Stats {
	return Stats{
		FramesReceived: r.received.Load(),
		FramesDropped:  r.dropped.Load(),
		QueueLen:       r.ring.Len(),
	}
}

// PauseProducer raises the pause request and polls for the producer's ack
// until ctx is done. The request stays up either way; ResumeProducer takes
// it down.
func (r *Receiver) PauseProducer(ctx context.Context) error {
	r.ch.RequestPause()
	ticker := time.NewTicker(pausePollInterval)
	defer ticker.Stop()
	for {
		if r.ch.ProducerPaused() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResumeProducer drops the pause request.
func (r *Receiver) ResumeProducer() {
	r.ch.ReleasePause()
}

// Close disposes the queue (recycling anything still queued) and closes the
// channel endpoint.
func (r *Receiver) Close() error {
	for {
		v, err := r.ring.Poll(time.Millisecond)
		if err != nil {
			break
		}
		bytebufferpool.Put(v.(*bytebufferpool.ByteBuffer))
	}
	r.ring.Dispose()
	return r.ch.Close()
}
