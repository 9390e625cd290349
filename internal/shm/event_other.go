//go:build !linux && !windows

package shm

import "time"

// Event is unavailable on this platform; transports poll instead.
type Event struct{}

func OpenEvent(string, bool) (*Event, error) {
	return nil, ErrNotSupported
}

func (e *Event) Signal() {}

func (e *Event) Wait(timeout time.Duration) bool {
	if timeout > 0 {
		time.Sleep(timeout)
	}
	return false
}

func (e *Event) Close() error { return nil }

func UnlinkEvent(string) error { return nil }
