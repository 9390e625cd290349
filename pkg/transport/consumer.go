package transport

import "time"

// AcquireLatest copies the newest fully-published frame into out and reports
// whether a new frame was available. (false, nil) is the expected steady
// state when polling faster than the producer publishes, not an error.
//
// The consumer always jumps to slot (writeIndex-1) mod 3, not readIndex,
// silently discarding any intermediate frames the producer published since
// the last read. The readIndex store afterwards only feeds the producer's
// drop-distance telemetry; it reserves nothing.
func (c *Channel) AcquireLatest(out []byte) (bool, error) {
	if !c.connected.Load() {
		return false, ErrNotAttached
	}
	if len(out) != int(c.frameSize) {
		return false, ErrSizeMismatch
	}
	cb := c.arena.cb

	wi := cb.writeIndex.Load() // pairs with the producer's publishing store
	ri := cb.readIndex.Load()  // only this process writes it
	if wi == ri {
		return false, nil
	}

	copy(out, c.arena.slots[latestSlot(wi)])
	cb.readIndex.Store(wi)
	c.acquired.Add(1)
	return true, nil
}

// WaitForFrame blocks until the producer signals a publish or timeout
// elapses, and reports whether a signal was observed. A negative timeout
// blocks indefinitely; zero returns immediately.
//
// Without an event primitive (unsupported platform, or the peer could not
// create it) this only sleeps; callers poll AcquireLatest regardless of the
// return value, which is also the correct pattern for spurious wakeups.
func (c *Channel) WaitForFrame(timeout time.Duration) bool {
	if !c.connected.Load() {
		return false
	}
	if c.event == nil {
		if timeout > 0 {
			time.Sleep(timeout)
		} else if timeout < 0 {
			time.Sleep(c.opts.RetryInterval)
		}
		return false
	}
	return c.event.Wait(timeout)
}

// RequestPause asks the producer to quiesce. Advisory: the producer observes
// it on its own polling cadence and acknowledges via ConfirmPaused.
func (c *Channel) RequestPause() {
	if !c.connected.Load() {
		return
	}
	c.arena.cb.pauseRequested.Store(1)
}

// ProducerPaused reports whether the producer has acknowledged the pause.
func (c *Channel) ProducerPaused() bool {
	if !c.connected.Load() {
		return false
	}
	return c.arena.cb.producerPaused.Load() != 0
}

// ReleasePause withdraws the pause request. The producer clears its own
// acknowledgement when it observes the request gone and resumes publishing.
func (c *Channel) ReleasePause() {
	if !c.connected.Load() {
		return
	}
	c.arena.cb.pauseRequested.Store(0)
}
