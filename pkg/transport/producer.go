package transport

import (
	"context"
	"time"
)

// Publish copies one frame into the current write slot and makes it visible
// to the consumer. The payload must be exactly FrameSize bytes.
//
// Publishing never blocks and never refuses a frame for backpressure: when
// the consumer is more than one slot behind, droppedFrames is incremented as
// telemetry and the write proceeds anyway. Latency beats completeness here.
func (c *Channel) Publish(frame []byte) error {
	if !c.connected.Load() {
		return ErrNotAttached
	}
	if len(frame) != int(c.frameSize) {
		return ErrSizeMismatch
	}
	cb := c.arena.cb

	wi := cb.writeIndex.Load() // only this process writes it
	ri := cb.readIndex.Load()  // pairs with the consumer's readIndex store
	if slotDistance(wi, ri) > 1 {
		cb.droppedFrames.Add(1)
		if c.drops != nil {
			c.drops.Add(context.Background(), 1)
		}
	}

	copy(c.arena.slots[wi], frame)
	cb.lastWriteNs.Store(uint64(time.Now().UnixNano()))

	// Publishing store: a consumer that observes the advanced index also
	// observes the completed slot copy above.
	cb.writeIndex.Store(nextSlot(wi))
	cb.frameCounter.Add(1)

	if c.publishes != nil {
		c.publishes.Add(context.Background(), 1)
	}
	if c.event != nil {
		c.event.Signal() // best effort; consumer can always poll
	}
	return nil
}

// CheckPauseRequested reports whether the consumer has asked the producer to
// quiesce. Producers poll this on their own cadence; it never blocks them
// synchronously.
func (c *Channel) CheckPauseRequested() bool {
	if !c.connected.Load() {
		return false
	}
	return c.arena.cb.pauseRequested.Load() != 0
}

// ConfirmPaused acknowledges a pause request. Called by the producer once it
// has stopped publishing.
func (c *Channel) ConfirmPaused() {
	if !c.connected.Load() {
		return
	}
	c.arena.cb.producerPaused.Store(1)
}

// ClearPaused withdraws the producer's pause acknowledgement. A freshly
// starting producer also calls this: a dead predecessor's acknowledgement
// means nothing, while a still-set pause request is honored going forward.
func (c *Channel) ClearPaused() {
	if !c.connected.Load() {
		return
	}
	c.arena.cb.producerPaused.Store(0)
}

// ClearPauseState resets both handshake flags. Used by conventions where the
// producer performs the reset after the reconfiguration completes; both
// stores are plain writes, so the worst outcome of racing the consumer is a
// re-asserted request on its next cycle.
func (c *Channel) ClearPauseState() {
	if !c.connected.Load() {
		return
	}
	c.arena.cb.pauseRequested.Store(0)
	c.arena.cb.producerPaused.Store(0)
}
