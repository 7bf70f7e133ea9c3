package engine

import (
	"fmt"
	"sync"

	"github.com/calvinalkan/strandstore/pkg/device"
)

// Strand owns a [start, start+capacity) region of a device.Device: a page 0
// header plus an append-only log of item records.
//
// Reads and writes are bounds-checked against capacity and translated to
// absolute device offsets by adding start. Strand itself only guards its
// statistics and append cursor with a mutex; callers (Volume) are
// responsible for holding the strand's RWMutex around Read/Write so that
// writes to one strand are mutually exclusive.
type Strand struct {
	dev   device.Device
	id    uint16
	start uint64

	mu       sync.Mutex
	capacity uint64
	offset   uint64
	stats    strandStats
}

// newStrand constructs a Strand over [start, start+capacity). When
// readExisting is true, the strand header is read back from device page 0
// (at start) and validated; otherwise a fresh header is written with
// offset = PageSize and zeroed statistics.
func newStrand(dev device.Device, id uint16, start, capacity uint64, readExisting bool) (*Strand, error) {
	s := &Strand{dev: dev, id: id, start: start, capacity: capacity}

	if readExisting {
		buf := make([]byte, strandHeaderSize)

		err := dev.ReadAt(start, buf)
		if err != nil {
			return nil, fmt.Errorf("engine: strand %d: read header: %w", id, err)
		}

		hdr, err := decodeStrandHeader(buf)
		if err != nil {
			return nil, fmt.Errorf("engine: strand %d: %w", id, err)
		}

		if hdr.ID != id {
			return nil, fmt.Errorf("engine: strand %d: header id %d mismatch: %w", id, hdr.ID, ErrCorrupt)
		}

		if hdr.Capacity != capacity {
			return nil, fmt.Errorf("engine: strand %d: header capacity %d != expected %d: %w",
				id, hdr.Capacity, capacity, ErrCorrupt)
		}

		if hdr.Offset < device.PageSize || hdr.Offset > capacity {
			return nil, fmt.Errorf("engine: strand %d: header offset %d out of range: %w", id, hdr.Offset, ErrCorrupt)
		}

		s.offset = hdr.Offset
		s.stats = hdr.Stats

		return s, nil
	}

	s.offset = device.PageSize

	err := s.writeHeaderLocked()
	if err != nil {
		return nil, fmt.Errorf("engine: strand %d: write fresh header: %w", id, err)
	}

	return s, nil
}

// ID returns the strand's index within its volume.
func (s *Strand) ID() uint16 {
	return s.id
}

// Start returns the strand's absolute starting offset on the device.
func (s *Strand) Start() uint64 {
	return s.start
}

// Capacity returns the strand's total size in bytes, including its header
// page.
func (s *Strand) Capacity() uint64 {
	return s.capacity
}

// Offset returns the current append cursor, in bytes from the strand's
// start.
func (s *Strand) Offset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.offset
}

// Remaining returns how many bytes are left before the strand is full.
func (s *Strand) Remaining() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.capacity - s.offset
}

// ContainsPtr reports whether p falls within [start, start+capacity).
func (s *Strand) ContainsPtr(p uint64) bool {
	return p >= s.start && p < s.start+s.capacity
}

// Read reads len(buf) bytes at strand-relative offset off.
func (s *Strand) Read(off uint64, buf []byte) error {
	if off+uint64(len(buf)) > s.capacity {
		return fmt.Errorf("engine: strand %d: read [%d,%d) exceeds capacity %d: %w",
			s.id, off, off+uint64(len(buf)), s.capacity, ErrBadArgument)
	}

	err := s.dev.ReadAt(s.start+off, buf)
	if err != nil {
		return fmt.Errorf("engine: strand %d: read: %w: %w", s.id, ErrIO, err)
	}

	s.mu.Lock()
	s.stats.ReadBytes += uint64(len(buf))
	s.mu.Unlock()

	return nil
}

// Write writes buf at strand-relative offset off.
func (s *Strand) Write(off uint64, buf []byte) error {
	if off+uint64(len(buf)) > s.capacity {
		return fmt.Errorf("engine: strand %d: write [%d,%d) exceeds capacity %d: %w",
			s.id, off, off+uint64(len(buf)), s.capacity, ErrBadArgument)
	}

	err := s.dev.WriteAt(s.start+off, buf)
	if err != nil {
		return fmt.Errorf("engine: strand %d: write: %w: %w", s.id, ErrIO, err)
	}

	s.mu.Lock()
	s.stats.WrittenBytes += uint64(len(buf))
	s.mu.Unlock()

	return nil
}

// Trim discards strand-relative [off, off+length).
func (s *Strand) Trim(off, length uint64) error {
	if off+length > s.capacity {
		return fmt.Errorf("engine: strand %d: trim [%d,%d) exceeds capacity %d: %w",
			s.id, off, off+length, s.capacity, ErrBadArgument)
	}

	err := s.dev.Trim(s.start+off, length)
	if err != nil {
		return fmt.Errorf("engine: strand %d: trim: %w: %w", s.id, ErrIO, err)
	}

	s.mu.Lock()
	s.stats.TrimmedBytes += length
	s.mu.Unlock()

	return nil
}

// pushOffset advances the append cursor by n bytes. Callers must ensure
// those n bytes have been (or are concurrently being) written.
func (s *Strand) pushOffset(n uint64) {
	s.mu.Lock()
	s.offset += n
	s.mu.Unlock()
}

// addBufferStats folds buffer-level byte counts (served by the reader's
// page cache or absorbed by the writer's erase-block buffer, as opposed to
// ReadBytes/WrittenBytes which count actual device I/O) into the strand's
// persisted statistics.
func (s *Strand) addBufferStats(read, written uint64) {
	s.mu.Lock()
	s.stats.BufferReadBytes += read
	s.stats.BufferWriteBytes += written
	s.mu.Unlock()
}

// addItemStats adjusts the valid/deleted item counters.
func (s *Strand) addItemStats(validDelta, deletedDelta int64) {
	s.mu.Lock()
	s.stats.ValidItems = addClampedUint64(s.stats.ValidItems, validDelta)
	s.stats.DeletedItems = addClampedUint64(s.stats.DeletedItems, deletedDelta)
	s.mu.Unlock()
}

func addClampedUint64(base uint64, delta int64) uint64 {
	if delta >= 0 {
		return base + uint64(delta)
	}

	dec := uint64(-delta)
	if dec > base {
		return 0
	}

	return base - dec
}

// Stats returns a snapshot of the strand's persisted counters.
func (s *Strand) Stats() strandStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// writeHeaderLocked serializes the strand's current state and writes it to
// device page 0 of the strand. Caller must already hold s.mu, or call it
// before the strand is shared (construction).
func (s *Strand) writeHeaderLocked() error {
	hdr := strandHeader{
		ID:       s.id,
		Capacity: s.capacity,
		Offset:   s.offset,
		Stats:    s.stats,
	}

	buf := encodeStrandHeader(&hdr)

	return s.dev.WriteAt(s.start, buf)
}

// WriteHeader rewrites the strand header, capturing the current append
// cursor and statistics. Idempotent; called on Volume close for every
// strand.
func (s *Strand) WriteHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.writeHeaderLocked()
	if err != nil {
		return fmt.Errorf("engine: strand %d: write header: %w", s.id, err)
	}

	return nil
}
