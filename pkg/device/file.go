package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is a [Device] backed by an already-open *os.File, which may
// be a regular file or a raw block device node (e.g. /dev/sdX).
//
// The caller owns the file's lifecycle up to and including opening it;
// FileDevice only closes the descriptor it was given.
type FileDevice struct {
	file     *os.File
	fd       int
	capacity uint64
	isBlock  bool
	closed   bool
}

// OpenFileDevice wraps f as a [Device] with the given logical capacity.
//
// capacity must not exceed the file's actual size (for a regular file) and
// must be a non-zero multiple of [PageSize]. Use [SizeOf] to query the
// natural capacity of a path (file or block device) before calling this.
func OpenFileDevice(f *os.File, capacity uint64) (*FileDevice, error) {
	if capacity == 0 || capacity%PageSize != 0 {
		return nil, fmt.Errorf("file device: capacity %d must be a non-zero multiple of %d", capacity, PageSize)
	}

	fd := int(f.Fd())

	isBlock, err := isBlockDevice(fd)
	if err != nil {
		return nil, fmt.Errorf("file device: stat %q: %w", f.Name(), err)
	}

	if !isBlock {
		info, statErr := f.Stat()
		if statErr != nil {
			return nil, fmt.Errorf("file device: stat %q: %w", f.Name(), statErr)
		}

		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("file device: %q: %w", f.Name(), ErrFileType)
		}
	}

	return &FileDevice{file: f, fd: fd, capacity: capacity, isBlock: isBlock}, nil
}

// SizeOf returns the usable capacity of path — the file size for a regular
// file, or the device size (via ioctl) for a block device — rounded down
// to a multiple of [PageSize].
func SizeOf(path string) (uint64, error) {
	return sizeOf(path)
}

// Capacity returns the device's configured size in bytes.
func (d *FileDevice) Capacity() uint64 {
	return d.capacity
}

// IsBlockDevice reports whether the backing file is a raw block device.
func (d *FileDevice) IsBlockDevice() bool {
	return d.isBlock
}

// ReadAt reads len(buf) bytes starting at off via pread(2).
func (d *FileDevice) ReadAt(off uint64, buf []byte) error {
	if d.closed {
		return fmt.Errorf("file device: %w", errClosed)
	}

	err := checkAligned(off, uint64(len(buf)), d.capacity)
	if err != nil {
		return err
	}

	for total := 0; total < len(buf); {
		n, prErr := unix.Pread(d.fd, buf[total:], int64(off)+int64(total))
		if prErr != nil {
			return fmt.Errorf("file device: pread: %w", prErr)
		}

		if n == 0 {
			return fmt.Errorf("file device: pread: %w", errShortIO)
		}

		total += n
	}

	return nil
}

// WriteAt writes buf starting at off via pwrite(2).
func (d *FileDevice) WriteAt(off uint64, buf []byte) error {
	if d.closed {
		return fmt.Errorf("file device: %w", errClosed)
	}

	err := checkAligned(off, uint64(len(buf)), d.capacity)
	if err != nil {
		return err
	}

	for total := 0; total < len(buf); {
		n, pwErr := unix.Pwrite(d.fd, buf[total:], int64(off)+int64(total))
		if pwErr != nil {
			return fmt.Errorf("file device: pwrite: %w", pwErr)
		}

		if n == 0 {
			return fmt.Errorf("file device: pwrite: %w", errShortIO)
		}

		total += n
	}

	return nil
}

// Trim discards [off, off+length). On a regular file this punches a hole
// with fallocate(2); on a block device it issues BLKDISCARD.
func (d *FileDevice) Trim(off, length uint64) error {
	if d.closed {
		return fmt.Errorf("file device: %w", errClosed)
	}

	err := checkTrimAligned(off, length, d.capacity)
	if err != nil {
		return err
	}

	if length == 0 {
		return nil
	}

	return d.trim(off, length)
}

// Close flushes and closes the underlying file descriptor. Idempotent.
func (d *FileDevice) Close() error {
	if d.closed {
		return nil
	}

	d.closed = true

	syncErr := unix.Fsync(d.fd)
	closeErr := d.file.Close()

	if syncErr != nil {
		return fmt.Errorf("file device: fsync on close: %w", syncErr)
	}

	if closeErr != nil {
		return fmt.Errorf("file device: close: %w", closeErr)
	}

	return nil
}

// Compile-time interface check.
var _ Device = (*FileDevice)(nil)
