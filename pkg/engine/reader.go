package engine

import (
	"fmt"
	"io"

	"github.com/calvinalkan/strandstore/pkg/device"
)

// StrandReader is a single-goroutine byte stream over a Strand, starting
// at a FilePointer. It caches one page (device.PageSize) at a time.
//
// It implements io.Reader and io.ByteReader so the item codec can decode
// self-describing varint-framed lengths directly via
// encoding/binary.ReadUvarint — the idiomatic substitute for a
// fill_buf/consume streaming-decode protocol. A StrandReader is not safe
// for concurrent use; callers hold the strand's shared lock for the
// reader's lifetime.
type StrandReader struct {
	strand *Strand
	cursor uint64 // strand-relative byte offset of the next unread byte

	page      [device.PageSize]byte
	pageStart uint64 // strand-relative offset the page buffer holds
	pageValid bool
}

// newStrandReader opens a StrandReader at absolute FilePointer ptr, which
// must fall within strand's range.
func newStrandReader(strand *Strand, ptr uint64) (*StrandReader, error) {
	if !strand.ContainsPtr(ptr) {
		return nil, fmt.Errorf("engine: strand %d: pointer %d out of range: %w", strand.ID(), ptr, ErrBadArgument)
	}

	return &StrandReader{strand: strand, cursor: ptr - strand.Start()}, nil
}

// Pointer returns the absolute FilePointer of the next unread byte.
func (r *StrandReader) Pointer() uint64 {
	return r.strand.Start() + r.cursor
}

// Read implements io.Reader. It serves bytes from the cached page,
// reloading from the device whenever the requested range crosses into an
// uncached page, and returns io.EOF once the strand's capacity is
// exhausted.
func (r *StrandReader) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if r.cursor >= r.strand.Capacity() {
		return 0, io.EOF
	}

	err := r.ensurePage()
	if err != nil {
		return 0, err
	}

	pageOff := int(r.cursor - r.pageStart)

	n := copy(buf, r.page[pageOff:])

	r.advance(uint64(n))
	r.strand.addBufferStats(uint64(n), 0)

	return n, nil
}

// ReadByte implements io.ByteReader.
func (r *StrandReader) ReadByte() (byte, error) {
	if r.cursor >= r.strand.Capacity() {
		return 0, io.EOF
	}

	err := r.ensurePage()
	if err != nil {
		return 0, err
	}

	b := r.page[r.cursor-r.pageStart]

	r.advance(1)
	r.strand.addBufferStats(1, 0)

	return b, nil
}

// ensurePage loads the page containing r.cursor if it isn't already
// cached.
func (r *StrandReader) ensurePage() error {
	aligned := r.cursor - r.cursor%device.PageSize

	if r.pageValid && r.pageStart == aligned {
		return nil
	}

	err := r.strand.Read(aligned, r.page[:])
	if err != nil {
		return fmt.Errorf("engine: strand reader: %w", err)
	}

	r.pageStart = aligned
	r.pageValid = true

	return nil
}

// advance moves the cursor forward by n bytes, invalidating the page
// buffer once the cursor crosses its end.
func (r *StrandReader) advance(n uint64) {
	r.cursor += n

	if r.cursor-r.pageStart >= device.PageSize {
		r.pageValid = false
	}
}
