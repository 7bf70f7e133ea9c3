//go:build linux

package device

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// isBlockDevice reports whether fd refers to a block device node.
func isBlockDevice(fd int) (bool, error) {
	var st unix.Stat_t

	err := unix.Fstat(fd, &st)
	if err != nil {
		return false, err
	}

	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}

// sizeOf returns the page-aligned usable size of path.
func sizeOf(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("device: open %q: %w", path, err)
	}
	defer f.Close()

	fd := int(f.Fd())

	isBlock, err := isBlockDevice(fd)
	if err != nil {
		return 0, fmt.Errorf("device: stat %q: %w", path, err)
	}

	var size uint64

	if isBlock {
		blkSize, ioctlErr := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
		if ioctlErr != nil {
			return 0, fmt.Errorf("device: BLKGETSIZE64 %q: %w", path, ioctlErr)
		}

		size = uint64(blkSize)
	} else {
		info, statErr := f.Stat()
		if statErr != nil {
			return 0, fmt.Errorf("device: stat %q: %w", path, statErr)
		}

		size = uint64(info.Size())
	}

	return size - size%PageSize, nil
}

// trim punches a hole on a regular file, or issues BLKDISCARD on a block
// device.
func (d *FileDevice) trim(off, length uint64) error {
	if d.isBlock {
		rng := [2]uint64{off, length}

		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(unix.BLKDISCARD), uintptr(unsafe.Pointer(&rng)))
		if errno != 0 {
			return fmt.Errorf("file device: BLKDISCARD: %w", errno)
		}

		return nil
	}

	err := unix.Fallocate(d.fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, int64(off), int64(length))
	if err != nil {
		return fmt.Errorf("file device: fallocate punch-hole: %w", err)
	}

	return nil
}
