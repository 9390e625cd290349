//go:build !linux && !windows

package shm

type regionHandle struct{}

// MapRegion is unavailable on this platform.
func MapRegion(MapOptions) (*MappedRegion, error) {
	return nil, ErrNotSupported
}

func UnmapRegion(*MappedRegion) error { return nil }

func UnlinkRegion(string) error { return nil }
