//go:build windows

package shm

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

type regionHandle struct {
	mapping windows.Handle
	view    uintptr
}

// objectName converts a portable "/name" into the session-local Windows
// object namespace, e.g. "Local\name".
func objectName(name string) string {
	return `Local\` + strings.TrimPrefix(name, "/")
}

// MapRegion creates or opens a pagefile-backed named file mapping.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("shm: invalid region size %d", opts.Size)
	}
	name, err := windows.UTF16PtrFromString(objectName(opts.Name))
	if err != nil {
		return nil, fmt.Errorf("shm: bad region name %q: %w", opts.Name, err)
	}

	created := false
	var mapping windows.Handle
	if opts.Create {
		mapping, err = windows.CreateFileMapping(windows.InvalidHandle, nil,
			windows.PAGE_READWRITE, uint32(uint64(opts.Size)>>32), uint32(opts.Size), name)
		if err == nil {
			created = true
		} else if err == windows.ERROR_ALREADY_EXISTS && mapping != 0 {
			// CreateFileMapping opened the existing object; x/sys surfaces
			// that through the error value alongside a valid handle.
			err = nil
		}
	} else {
		mapping, err = windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, name)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: mapping %s: %w", opts.Name, err)
	}

	view, err := windows.MapViewOfFile(mapping, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(opts.Size))
	if err != nil {
		_ = windows.CloseHandle(mapping)
		return nil, fmt.Errorf("shm: map view %s: %w", opts.Name, err)
	}

	return &MappedRegion{
		Data:    unsafe.Slice((*byte)(unsafe.Pointer(view)), opts.Size),
		Name:    opts.Name,
		created: created,
		handle:  regionHandle{mapping: mapping, view: view},
	}, nil
}

// UnmapRegion unmaps the view and closes the mapping handle.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Data == nil {
		return nil
	}
	if err := windows.UnmapViewOfFile(region.handle.view); err != nil {
		return fmt.Errorf("shm: unmap view %s: %w", region.Name, err)
	}
	region.Data = nil
	if err := windows.CloseHandle(region.handle.mapping); err != nil {
		return fmt.Errorf("shm: close mapping %s: %w", region.Name, err)
	}
	return nil
}

// UnlinkRegion is a no-op on Windows; named mappings vanish with their last
// open handle.
func UnlinkRegion(string) error {
	return nil
}
