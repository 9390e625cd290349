//go:build windows

package shm

import (
	"fmt"
	"time"

	"golang.org/x/sys/windows"
)

// Event is the optional cross-process wakeup associated with a channel,
// backed by a named auto-reset event object.
type Event struct {
	handle windows.Handle
}

// OpenEvent creates or opens the named event. CreateEvent opens an existing
// object of the same name, so create-or-open needs no special casing.
func OpenEvent(name string, create bool) (*Event, error) {
	namePtr, err := windows.UTF16PtrFromString(objectName(name))
	if err != nil {
		return nil, fmt.Errorf("shm: bad event name %q: %w", name, err)
	}
	handle, err := windows.CreateEvent(nil, 0, 0, namePtr)
	existed := err == windows.ERROR_ALREADY_EXISTS && handle != 0
	if err != nil && !existed {
		return nil, fmt.Errorf("shm: event %s: %w", name, err)
	}
	if !create && !existed {
		// Open-only semantics: we just created an event nobody owns.
		_ = windows.CloseHandle(handle)
		return nil, fmt.Errorf("shm: event %s does not exist", name)
	}
	return &Event{handle: handle}, nil
}

// Signal wakes a waiting peer. Best effort.
func (e *Event) Signal() {
	_ = windows.SetEvent(e.handle)
}

// Wait blocks until a signal arrives or timeout elapses. A negative timeout
// blocks indefinitely; zero returns immediately.
func (e *Event) Wait(timeout time.Duration) bool {
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout / time.Millisecond)
	}
	ev, err := windows.WaitForSingleObject(e.handle, ms)
	return err == nil && ev == windows.WAIT_OBJECT_0
}

// Close releases the event handle.
func (e *Event) Close() error {
	if e == nil || e.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(e.handle)
	e.handle = 0
	return err
}

// UnlinkEvent is a no-op on Windows; the object vanishes with its last handle.
func UnlinkEvent(string) error {
	return nil
}
