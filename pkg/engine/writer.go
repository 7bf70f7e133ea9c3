package engine

import (
	"fmt"

	"github.com/calvinalkan/strandstore/pkg/device"
)

// writerBufState tracks what the StrandWriter's erase-block buffer holds
// relative to the device.
type writerBufState uint8

const (
	bufEmpty writerBufState = iota
	bufClean
	bufDirty
)

// StrandWriter is a single-goroutine append-only byte stream bound to a
// Strand. It holds one erase-block buffer (device.TrimSize) so that
// partial-block appends still preserve previously-written bytes in the
// same erase block, flushing a full block to the device only once it's
// completely filled (or on an explicit Flush).
//
// A StrandWriter is not safe for concurrent use; callers hold the
// strand's exclusive lock for the writer's lifetime.
type StrandWriter struct {
	strand *Strand
	cursor uint64 // strand-relative offset of the next byte to write

	updateOffset bool // advance strand.offset as bytes land; false for snapshot writes

	block      [device.TrimSize]byte
	blockStart uint64
	blockLen   uint64
	state      writerBufState
}

// newStrandWriter opens a StrandWriter positioned at strand's current
// append cursor. updateOffset controls whether writes advance the
// strand's persisted append cursor; it is false only when writing a
// DatastoreState snapshot during close, since that write must not move
// the log cursor that the next open would resume from.
func newStrandWriter(strand *Strand, updateOffset bool) *StrandWriter {
	return &StrandWriter{strand: strand, cursor: strand.Offset(), updateOffset: updateOffset}
}

// GetPointer returns the absolute FilePointer the next written byte will
// land at. Callers capture this before writing an item record to learn
// its address.
func (w *StrandWriter) GetPointer() uint64 {
	return w.strand.Start() + w.cursor
}

// Write implements io.Writer over the strand's remaining capacity.
func (w *StrandWriter) Write(buf []byte) (int, error) {
	capacity := w.strand.Capacity()

	remaining := capacity - w.cursor
	if uint64(len(buf)) > remaining {
		return 0, fmt.Errorf("engine: strand %d: write %d bytes, %d remaining: %w",
			w.strand.ID(), len(buf), remaining, ErrOutOfSpace)
	}

	written := 0

	for written < len(buf) {
		blockStart := w.cursor - w.cursor%device.TrimSize
		blockLen := blockLenAt(blockStart, capacity)

		if w.state == bufEmpty || w.blockStart != blockStart {
			err := w.swapBlock(blockStart, blockLen)
			if err != nil {
				return written, err
			}
		}

		offInBlock := w.cursor - blockStart
		spaceInBlock := blockLen - offInBlock

		n := copy(w.block[offInBlock:offInBlock+spaceInBlock], buf[written:])

		w.state = bufDirty
		w.cursor += uint64(n)
		written += n

		if w.updateOffset {
			w.strand.pushOffset(uint64(n))
		}

		w.strand.addBufferStats(0, uint64(n))

		if offInBlock+uint64(n) == blockLen {
			err := w.flushBlock()
			if err != nil {
				return written, err
			}
		}
	}

	return written, nil
}

// swapBlock flushes any dirty block currently buffered, then loads the
// erase block at [blockStart, blockStart+blockLen) from the device so
// that a partial append preserves the bytes already on disk.
func (w *StrandWriter) swapBlock(blockStart, blockLen uint64) error {
	if w.state == bufDirty {
		err := w.flushBlock()
		if err != nil {
			return err
		}
	}

	err := w.strand.Read(blockStart, w.block[:blockLen])
	if err != nil {
		return fmt.Errorf("engine: strand %d: writer load block: %w", w.strand.ID(), err)
	}

	w.blockStart = blockStart
	w.blockLen = blockLen
	w.state = bufClean

	return nil
}

// flushBlock writes the buffered erase block to the device.
func (w *StrandWriter) flushBlock() error {
	err := w.strand.Write(w.blockStart, w.block[:w.blockLen])
	if err != nil {
		return fmt.Errorf("engine: strand %d: writer flush block: %w", w.strand.ID(), err)
	}

	w.state = bufClean

	return nil
}

// Flush writes any buffered dirty bytes to the device. Safe to call when
// nothing is buffered.
func (w *StrandWriter) Flush() error {
	if w.state != bufDirty {
		return nil
	}

	return w.flushBlock()
}

// WriteMetadata rewrites the strand header page with the strand's current
// append cursor and statistics.
func (w *StrandWriter) WriteMetadata() error {
	return w.strand.WriteHeader()
}

// blockLenAt returns how many bytes the erase block starting at
// blockStart actually spans, truncated at capacity for a strand whose
// length isn't a multiple of device.TrimSize.
func blockLenAt(blockStart, capacity uint64) uint64 {
	if blockStart+device.TrimSize > capacity {
		return capacity - blockStart
	}

	return device.TrimSize
}
