//go:build !linux

package device

import (
	"fmt"
	"os"
)

// isBlockDevice always reports false outside Linux; block-device support is
// Linux-specific (BLKGETSIZE64 / BLKDISCARD). A plain file's mode bits are
// still regular, so FileDevice over a file works unmodified.
func isBlockDevice(fd int) (bool, error) {
	return false, nil
}

// sizeOf returns the page-aligned size of the regular file at path.
func sizeOf(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("device: stat %q: %w", path, err)
	}

	size := uint64(info.Size())

	return size - size%PageSize, nil
}

// trim zero-fills the range, since fallocate punch-hole is
// Linux-specific. This writes zeroes instead of
// deallocating space, which is a correctness-preserving but
// space-inefficient fallback for non-Linux development builds.
func (d *FileDevice) trim(off, length uint64) error {
	zero := make([]byte, PageSize)

	for written := uint64(0); written < length; written += PageSize {
		n := PageSize
		if remaining := length - written; remaining < uint64(n) {
			n = int(remaining)
		}

		err := d.WriteAt(off+written, zero[:n])
		if err != nil {
			return fmt.Errorf("file device: trim fallback write: %w", err)
		}
	}

	return nil
}
