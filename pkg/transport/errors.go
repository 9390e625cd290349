package transport

import "errors"

var (
	// ErrSizeMismatch means the caller supplied a payload whose length does
	// not match the channel's frame size. No state is mutated.
	ErrSizeMismatch = errors.New("transport: payload size does not match frame size")

	// ErrNotAttached means the channel has no mapped region. Attachment
	// failures are retried on a cadence, never treated as fatal.
	ErrNotAttached = errors.New("transport: channel is not attached")

	// ErrGeometryMismatch means an existing region was initialized with a
	// different target geometry than this process was configured for.
	ErrGeometryMismatch = errors.New("transport: region geometry does not match options")

	// errNotInitialized is an attach-retry condition: the region file exists
	// but its creator has not finished stamping the control block.
	errNotInitialized = errors.New("transport: region not yet initialized by creator")
)
