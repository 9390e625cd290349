//go:build linux

package shm

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Event is the optional cross-process wakeup associated with a channel.
//
// On Linux it is a 32-bit event counter in its own tiny named region,
// waited on with a shared (non-private) futex. Signal bumps the counter and
// wakes waiters; Wait reports whether the counter moved since the last
// observation. Missed wakeups only cost one poll interval, so callers always
// re-check transport state after waking.
type Event struct {
	region *MappedRegion
	seq    *uint32
	last   uint32
}

const eventRegionSize = 8

// Futex operation codes from <linux/futex.h>; x/sys/unix does not export
// the plain (shared) op constants.
const (
	futexWait = 0
	futexWake = 1
)

// OpenEvent creates or opens the named event. With create=false a missing
// event is an error; callers fall back to polling.
func OpenEvent(name string, create bool) (*Event, error) {
	region, err := MapRegion(MapOptions{Name: name, Size: eventRegionSize, Create: create})
	if err != nil {
		return nil, err
	}
	seq := (*uint32)(unsafe.Pointer(&region.Data[0]))
	return &Event{
		region: region,
		seq:    seq,
		last:   atomic.LoadUint32(seq),
	}, nil
}

// Signal wakes any waiting peer. Best effort; losing a wakeup is harmless.
func (e *Event) Signal() {
	atomic.AddUint32(e.seq, 1)
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(e.seq)),
		uintptr(futexWake), uintptr(1<<30), 0, 0, 0)
}

// Wait blocks until a signal arrives or timeout elapses. A negative timeout
// blocks indefinitely; zero returns immediately. Reports whether a signal
// was observed.
func (e *Event) Wait(timeout time.Duration) bool {
	cur := atomic.LoadUint32(e.seq)
	if cur != e.last {
		e.last = cur
		return true
	}
	if timeout == 0 {
		return false
	}
	var tsPtr *unix.Timespec
	if timeout > 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		tsPtr = &ts
	}
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(e.seq)),
		uintptr(futexWait), uintptr(cur), uintptr(unsafe.Pointer(tsPtr)), 0, 0)
	cur = atomic.LoadUint32(e.seq)
	if cur != e.last {
		e.last = cur
		return true
	}
	return false
}

// Close releases this process's mapping of the event.
func (e *Event) Close() error {
	if e == nil {
		return nil
	}
	e.seq = nil
	return UnmapRegion(e.region)
}

// UnlinkEvent removes the event name. Owner-only, like UnlinkRegion.
func UnlinkEvent(name string) error {
	return UnlinkRegion(name)
}
