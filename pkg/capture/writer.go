// Package capture wires frame sources to shared-memory channels. A Writer
// feeds one channel; a Supplier fans one source out to several.
package capture

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/streamlumo/frame-shm/internal/logging"
	"github.com/streamlumo/frame-shm/pkg/convert"
	"github.com/streamlumo/frame-shm/pkg/transport"
)

const statsInterval = 5 * time.Second

// Writer owns one transport channel and the converter that feeds it.
// ProcessFrame is the synchronous entry point: the caller's plane pointers
// are only borrowed for the duration of the call. One goroutine at a time.
type Writer struct {
	ch   *transport.Channel
	conv *convert.Converter
	buf  *bytebufferpool.ByteBuffer
	log  *logging.Logger

	paused bool

	seen    atomic.Uint64
	written atomic.Uint64
	skipped atomic.Uint64
	started atomic.Int64 // unix nanos, zero until Start

	// Stats-log bookkeeping, touched only by the processing goroutine.
	lastStats   time.Time
	lastWritten uint64
}

// Stats is a point-in-time tally of one writer's activity.
type Stats struct {
	FramesSeen    uint64
	FramesWritten uint64
	FramesSkipped uint64
	AvgFPS        float64
}

// NewWriter opens the channel endpoint and sizes the conversion scratch. An
// attach failure is not fatal: Start retries it.
func NewWriter(opts transport.Options) (*Writer, error) {
	ch, err := transport.Open(opts)
	if ch == nil {
		return nil, err
	}
	w := &Writer{
		ch:  ch,
		log: logging.New("capture/"+opts.Channel, nil),
	}
	if err != nil {
		w.log.Warnf("initial attach failed, will retry: %v", err)
	}

	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = transport.DefaultWidth
	}
	if height <= 0 {
		height = transport.DefaultHeight
	}
	w.conv = convert.New(width, height)

	w.buf = bytebufferpool.Get()
	size := ch.FrameSize()
	if cap(w.buf.B) < size {
		w.buf.B = make([]byte, size)
	} else {
		w.buf.B = w.buf.B[:size]
	}
	return w, nil
}

// Start attaches (retrying until ctx is done) and clears any producer-paused
// ack left behind by a previous incarnation. A standing pause request from
// the consumer is honored on the next ProcessFrame.
func (w *Writer) Start(ctx context.Context) error {
	if err := w.ch.Attach(ctx); err != nil {
		return err
	}
	w.ch.ClearPaused()
	w.paused = false
	now := time.Now()
	w.started.Store(now.UnixNano())
	w.lastStats = now
	w.lastWritten = 0
	return nil
}

// Channel exposes the underlying endpoint, e.g. for metrics registration.
func (w *Writer) Channel() *transport.Channel {
	return w.ch
}

// ProcessFrame converts src into the channel's fixed geometry and publishes
// it. While the consumer holds a pause request the frame is acknowledged and
// skipped instead.
func (w *Writer) ProcessFrame(src *convert.SourceFrame) error {
	w.seen.Add(1)

	if w.pollPause() {
		w.skipped.Add(1)
		return nil
	}

	if err := w.conv.Convert(w.buf.B, src); err != nil {
		return fmt.Errorf("capture: convert: %w", err)
	}
	if err := w.ch.Publish(w.buf.B); err != nil {
		return fmt.Errorf("capture: publish: %w", err)
	}
	w.written.Add(1)
	w.maybeLogStats()
	return nil
}

// pollPause runs the producer half of the pause handshake once per frame.
func (w *Writer) pollPause() bool {
	if w.ch.CheckPauseRequested() {
		if !w.paused {
			w.ch.ConfirmPaused()
			w.paused = true
			w.log.Infof("pause requested, holding frames")
		}
		return true
	}
	if w.paused {
		w.ch.ClearPaused()
		w.paused = false
		w.log.Infof("pause released, resuming")
	}
	return false
}

// Stats returns the current tallies. Safe to call from other goroutines.
func (w *Writer) Stats() Stats {
	s := Stats{
		FramesSeen:    w.seen.Load(),
		FramesWritten: w.written.Load(),
		FramesSkipped: w.skipped.Load(),
	}
	if started := w.started.Load(); started != 0 {
		if elapsed := time.Since(time.Unix(0, started)).Seconds(); elapsed > 0 {
			s.AvgFPS = float64(s.FramesWritten) / elapsed
		}
	}
	return s
}

func (w *Writer) maybeLogStats() {
	now := time.Now()
	if now.Sub(w.lastStats) < statsInterval {
		return
	}
	written := w.written.Load()
	interval := now.Sub(w.lastStats).Seconds()
	w.log.Infof("wrote %d frames (%.1f fps), skipped %d, seen %d",
		written, float64(written-w.lastWritten)/interval, w.skipped.Load(), w.seen.Load())
	w.lastStats = now
	w.lastWritten = written
}

// Close releases the scratch buffer and the channel. The paused ack is
// cleared first so the consumer does not wait on a gone producer.
func (w *Writer) Close() error {
	if w.ch.IsConnected() && w.paused {
		w.ch.ClearPaused()
		w.paused = false
	}
	if w.buf != nil {
		bytebufferpool.Put(w.buf)
		w.buf = nil
	}
	return w.ch.Close()
}
