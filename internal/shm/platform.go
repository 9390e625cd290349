// Package shm contains the platform layer for named shared memory regions
// and the optional cross-process wakeup event associated with each region.
package shm

import "errors"

// MappedRegion is a named shared memory region mapped into this process.
type MappedRegion struct {
	// Data is the full mapped byte range. Both processes map the region at
	// identical size; all structure inside it is offsets, never pointers.
	Data []byte

	// Name is the portable region name (leading slash form, e.g.
	// "/streamlumo_frames_program").
	Name string

	created bool
	handle  regionHandle
}

// MapOptions defines how a region is created or opened.
type MapOptions struct {
	// Name is the portable region name.
	Name string
	// Size is the region size in bytes. Required when creating; an opened
	// region must be at least this large.
	Size int
	// Create opens the region if it exists and creates it otherwise.
	// When false, opening a missing region fails.
	Create bool
}

// ErrNotSupported is returned for primitives the platform cannot provide.
// Callers must degrade (the event degrades to polling, never to failure).
var ErrNotSupported = errors.New("shm: not supported on this platform")

// Created reports whether this process created the region, i.e. attached
// first. The creator is responsible for initializing the content.
func (r *MappedRegion) Created() bool {
	return r != nil && r.created
}

// DeriveName builds the per-channel object name from a base name, e.g.
// ("/streamlumo_frames", "program") -> "/streamlumo_frames_program".
func DeriveName(base, channel string) string {
	if channel == "" {
		return base
	}
	return base + "_" + channel
}
