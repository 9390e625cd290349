package transport

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamlumo/frame-shm/internal/logging"
	"github.com/streamlumo/frame-shm/internal/shm"
)

const (
	// DefaultBaseName and DefaultEventBaseName are the wire names the
	// original StreamLumo processes rendezvous on; the channel name is
	// appended with an underscore.
	DefaultBaseName      = "/streamlumo_frames"
	DefaultEventBaseName = "/streamlumo_sem"

	defaultRetryInterval = 500 * time.Millisecond
)

// Options configures one channel endpoint.
type Options struct {
	// BaseName is the region name prefix. Defaults to DefaultBaseName.
	BaseName string
	// EventBaseName is the wakeup event name prefix. Defaults to
	// DefaultEventBaseName.
	EventBaseName string
	// Channel is the logical stream name, e.g. "program" or "preview".
	Channel string
	// Width and Height are the target geometry. Default 1920x1080. The
	// first attacher stamps them into the region; later attachers must
	// match.
	Width  int
	Height int
	// Owner marks the endpoint responsible for unlinking the region and
	// event names on Close. The peer must never assume the names outlive
	// the owner.
	Owner bool
	// RetryInterval is the fixed attach-retry cadence used by Attach.
	RetryInterval time.Duration
	// DisableEvent skips the wakeup event entirely; WaitForFrame then only
	// sleeps and callers poll AcquireLatest.
	DisableEvent bool

	// Meter and Tracer optionally instrument the channel. Nil disables.
	Meter  metric.Meter
	Tracer trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.BaseName == "" {
		o.BaseName = DefaultBaseName
	}
	if o.EventBaseName == "" {
		o.EventBaseName = DefaultEventBaseName
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	return o
}

// Channel is one endpoint of a named frame transport. It is used by exactly
// one goroutine on the producer side and one on the consumer side; the
// cross-process synchronization is the control block's atomics.
type Channel struct {
	opts      Options
	frameSize uint32

	regionName string
	eventName  string

	region    *shm.MappedRegion
	arena     *arena
	event     *shm.Event
	connected atomic.Bool
	acquired  atomic.Uint64 // frames this endpoint has read, local statistic

	log *logging.Logger

	publishes metric.Int64Counter
	drops     metric.Int64Counter
}

// Metadata is a point-in-time snapshot of the control block.
type Metadata struct {
	Width                uint32
	Height               uint32
	FrameSize            uint32
	PixelFormat          uint32
	FrameCounter         uint64
	DroppedFrames        uint64
	LastWriteTimestampNs uint64
}

// Open creates a channel endpoint and attempts a single attach. An attach
// failure is returned but the endpoint stays usable: call Attach to retry on
// the configured cadence. Either side may attach first; whoever creates the
// region initializes it.
func Open(opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	c := &Channel{
		opts:       opts,
		frameSize:  uint32(FrameBytes(opts.Width, opts.Height)),
		regionName: shm.DeriveName(opts.BaseName, opts.Channel),
		eventName:  shm.DeriveName(opts.EventBaseName, opts.Channel),
		log:        logging.New("transport/"+opts.Channel, nil),
	}
	if opts.Meter != nil {
		var err error
		if c.publishes, err = opts.Meter.Int64Counter("frameshm.publishes"); err != nil {
			return nil, fmt.Errorf("transport: meter: %w", err)
		}
		if c.drops, err = opts.Meter.Int64Counter("frameshm.dropped_frames"); err != nil {
			return nil, fmt.Errorf("transport: meter: %w", err)
		}
	}
	if err := c.attachOnce(); err != nil {
		return c, err
	}
	return c, nil
}

// Attach retries attachment on the fixed cadence until it succeeds or ctx is
// done. Safe to call when already attached.
func (c *Channel) Attach(ctx context.Context) error {
	if c.opts.Tracer != nil {
		var span trace.Span
		ctx, span = c.opts.Tracer.Start(ctx, "frameshm.attach")
		defer span.End()
	}
	if c.connected.Load() {
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(c.opts.RetryInterval), ctx)
	return backoff.Retry(c.attachOnce, policy)
}

func (c *Channel) attachOnce() error {
	if c.connected.Load() {
		return nil
	}
	size := RegionSize(c.opts.Width, c.opts.Height)
	region, err := shm.MapRegion(shm.MapOptions{Name: c.regionName, Size: size, Create: true})
	if err != nil {
		return fmt.Errorf("transport: attach %s: %w", c.regionName, err)
	}
	a, err := newArena(region.Data, c.frameSize)
	if err != nil {
		_ = shm.UnmapRegion(region)
		return err
	}

	if region.Created() {
		c.initControlBlock(a.cb)
		c.log.Infof("initialized region %s (%d bytes)", c.regionName, size)
	} else if err := c.validateControlBlock(a.cb); err != nil {
		_ = shm.UnmapRegion(region)
		return err
	}

	if !c.opts.DisableEvent {
		event, err := shm.OpenEvent(c.eventName, true)
		if err != nil {
			// Optional primitive: degrade to polling, never fail the attach.
			c.log.Warnf("event %s unavailable, falling back to polling: %v", c.eventName, err)
		} else {
			c.event = event
		}
	}

	c.region = region
	c.arena = a
	c.connected.Store(true)
	return nil
}

// initControlBlock stamps geometry into a freshly created (zero-filled)
// region. frameSize is stored last: it is the validity latch a peer checks
// before trusting the rest of the header.
func (c *Channel) initControlBlock(cb *controlBlock) {
	cb.writeIndex.Store(0)
	cb.readIndex.Store(0)
	cb.width.Store(uint32(c.opts.Width))
	cb.height.Store(uint32(c.opts.Height))
	cb.pixelFormat.Store(FormatRGBA)
	cb.frameCounter.Store(0)
	cb.droppedFrames.Store(0)
	cb.lastWriteNs.Store(0)
	cb.frameSize.Store(c.frameSize)
}

func (c *Channel) validateControlBlock(cb *controlBlock) error {
	fs := cb.frameSize.Load()
	if fs == 0 {
		return errNotInitialized
	}
	if fs != c.frameSize ||
		cb.width.Load() != uint32(c.opts.Width) ||
		cb.height.Load() != uint32(c.opts.Height) {
		return fmt.Errorf("%w: region %dx%d/%dB, options %dx%d/%dB",
			ErrGeometryMismatch,
			cb.width.Load(), cb.height.Load(), fs,
			c.opts.Width, c.opts.Height, c.frameSize)
	}
	return nil
}

// IsConnected reports whether the region is currently mapped.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// FrameSize returns the per-slot payload size in bytes.
func (c *Channel) FrameSize() int {
	return int(c.frameSize)
}

// Name returns the logical channel name.
func (c *Channel) Name() string {
	return c.opts.Channel
}

// Metadata returns a snapshot of the control block. Counters are producer
// statistics, not synchronization state.
func (c *Channel) Metadata() (Metadata, error) {
	if !c.connected.Load() {
		return Metadata{}, ErrNotAttached
	}
	cb := c.arena.cb
	return Metadata{
		Width:                cb.width.Load(),
		Height:               cb.height.Load(),
		FrameSize:            cb.frameSize.Load(),
		PixelFormat:          cb.pixelFormat.Load(),
		FrameCounter:         cb.frameCounter.Load(),
		DroppedFrames:        cb.droppedFrames.Load(),
		LastWriteTimestampNs: cb.lastWriteNs.Load(),
	}, nil
}

// Close detaches from the region and event. The owner additionally unlinks
// the names; the peer's existing mapping stays valid until it detaches.
func (c *Channel) Close() error {
	c.connected.Store(false)
	var firstErr error
	if c.event != nil {
		if err := c.event.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.event = nil
	}
	if c.region != nil {
		if err := shm.UnmapRegion(c.region); err != nil && firstErr == nil {
			firstErr = err
		}
		c.region = nil
		c.arena = nil
	}
	if c.opts.Owner {
		if err := shm.UnlinkRegion(c.regionName); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := shm.UnlinkEvent(c.eventName); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
