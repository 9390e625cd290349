//go:build linux

package shm

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

const devShm = "/dev/shm"

type regionHandle struct {
	fd int
}

func regionPath(name string) string {
	return filepath.Join(devShm, strings.TrimPrefix(name, "/"))
}

// canCreateOnDevShm reports whether /dev/shm has room for a region of the
// given size. A stat failure is treated as "unknown, allow" so that odd
// mounts do not block attachment.
func canCreateOnDevShm(size uint64) bool {
	usage, err := disk.Usage(devShm)
	if err != nil {
		return true
	}
	return usage.Free >= size
}

// MapRegion creates or opens a named shared memory region under /dev/shm.
func MapRegion(opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("shm: invalid region size %d", opts.Size)
	}
	path := regionPath(opts.Name)

	created := false
	var fd int
	var err error
	if opts.Create {
		// Exclusive create first so exactly one attacher observes
		// created=true and takes responsibility for initialization.
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
		if err == nil {
			created = true
			if !canCreateOnDevShm(uint64(opts.Size)) {
				_ = unix.Close(fd)
				_ = unix.Unlink(path)
				return nil, fmt.Errorf("shm: no space left on %s for %d bytes", devShm, opts.Size)
			}
			if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
				_ = unix.Close(fd)
				_ = unix.Unlink(path)
				return nil, fmt.Errorf("shm: ftruncate %s: %w", path, err)
			}
		} else if err == unix.EEXIST {
			fd, err = unix.Open(path, unix.O_RDWR, 0o600)
		}
	} else {
		fd, err = unix.Open(path, unix.O_RDWR, 0o600)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: fstat %s: %w", path, err)
	}
	if st.Size < int64(opts.Size) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: region %s is %d bytes, need %d", path, st.Size, opts.Size)
	}

	data, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &MappedRegion{
		Data:    data,
		Name:    opts.Name,
		created: created,
		handle:  regionHandle{fd: fd},
	}, nil
}

// UnmapRegion unmaps and closes the region. The underlying name persists
// until UnlinkRegion.
func UnmapRegion(region *MappedRegion) error {
	if region == nil || region.Data == nil {
		return nil
	}
	if err := unix.Munmap(region.Data); err != nil {
		return fmt.Errorf("shm: munmap %s: %w", region.Name, err)
	}
	region.Data = nil
	if region.handle.fd > 0 {
		if err := unix.Close(region.handle.fd); err != nil {
			return fmt.Errorf("shm: close %s: %w", region.Name, err)
		}
		region.handle.fd = 0
	}
	return nil
}

// UnlinkRegion removes the region name. Mappings held by either process
// stay valid until unmapped. Only the designated owner should call this.
func UnlinkRegion(name string) error {
	if err := unix.Unlink(regionPath(name)); err != nil && err != unix.ENOENT {
		return fmt.Errorf("shm: unlink %s: %w", name, err)
	}
	return nil
}
