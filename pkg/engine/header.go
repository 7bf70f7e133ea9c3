package engine

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/calvinalkan/strandstore/pkg/device"
)

// Volume header layout: a fixed region at the start of the device,
// page-sized so it can be read/written with a single aligned I/O.
const (
	volumeHeaderSize = device.PageSize

	volumeSignature = 0x864d26e37a418b16

	versionMajor = 1
	versionMinor = 0
	versionPatch = 0
)

// Volume header field offsets (bytes from the start of the header).
const (
	voffSignature   = 0x00 // uint64
	voffVerMajor    = 0x08 // uint16
	voffVerMinor    = 0x0A // uint16
	voffVerPatch    = 0x0C // uint16
	voffStrands     = 0x0E // uint16
	voffStatePtr    = 0x10 // uint64
	voffCRC32C      = 0x18 // uint32
	voffReservedEnd = volumeHeaderSize
)

// volumeHeader is the on-disk, fixed-size header at device offset 0.
type volumeHeader struct {
	Signature uint64
	VerMajor  uint16
	VerMinor  uint16
	VerPatch  uint16
	Strands   uint16
	StatePtr  uint64
}

// encodeVolumeHeader serializes h into a page-sized buffer with a CRC32-C
// computed over the fields that precede the CRC field; the reserved bytes
// after it are not covered.
func encodeVolumeHeader(h *volumeHeader) []byte {
	buf := make([]byte, volumeHeaderSize)

	binary.LittleEndian.PutUint64(buf[voffSignature:], h.Signature)
	binary.LittleEndian.PutUint16(buf[voffVerMajor:], h.VerMajor)
	binary.LittleEndian.PutUint16(buf[voffVerMinor:], h.VerMinor)
	binary.LittleEndian.PutUint16(buf[voffVerPatch:], h.VerPatch)
	binary.LittleEndian.PutUint16(buf[voffStrands:], h.Strands)
	binary.LittleEndian.PutUint64(buf[voffStatePtr:], h.StatePtr)

	crc := crc32.Checksum(buf[:voffCRC32C], crc32.MakeTable(crc32.Castagnoli))
	binary.LittleEndian.PutUint32(buf[voffCRC32C:], crc)

	return buf
}

// decodeVolumeHeader parses buf (which must be volumeHeaderSize bytes) and
// validates its CRC and signature.
func decodeVolumeHeader(buf []byte) (volumeHeader, error) {
	var h volumeHeader

	if len(buf) < volumeHeaderSize {
		return h, fmt.Errorf("engine: volume header short read: %w", ErrCorrupt)
	}

	storedCRC := binary.LittleEndian.Uint32(buf[voffCRC32C:])
	computedCRC := crc32.Checksum(buf[:voffCRC32C], crc32.MakeTable(crc32.Castagnoli))

	if storedCRC != computedCRC {
		return h, fmt.Errorf("engine: volume header checksum mismatch: %w", ErrCorrupt)
	}

	h.Signature = binary.LittleEndian.Uint64(buf[voffSignature:])
	if h.Signature != volumeSignature {
		return h, fmt.Errorf("engine: volume header signature mismatch: %w", ErrCorrupt)
	}

	h.VerMajor = binary.LittleEndian.Uint16(buf[voffVerMajor:])
	h.VerMinor = binary.LittleEndian.Uint16(buf[voffVerMinor:])
	h.VerPatch = binary.LittleEndian.Uint16(buf[voffVerPatch:])

	if h.VerMajor != versionMajor {
		return h, fmt.Errorf("engine: volume major version %d, this build writes %d: %w",
			h.VerMajor, versionMajor, ErrIncompatibleVersion)
	}

	h.Strands = binary.LittleEndian.Uint16(buf[voffStrands:])
	h.StatePtr = binary.LittleEndian.Uint64(buf[voffStatePtr:])

	return h, nil
}

// Strand header layout: the fixed-size region at the start of each
// strand's device region.
const (
	strandHeaderSize = device.PageSize

	strandSignature = 0x582f047b5ed83a7f
)

const (
	soffSignature        = 0x00 // uint64
	soffID               = 0x08 // uint16
	soffCapacity         = 0x10 // uint64
	soffOffset           = 0x18 // uint64
	soffReadBytes        = 0x20 // uint64
	soffWrittenBytes     = 0x28 // uint64
	soffTrimmedBytes     = 0x30 // uint64
	soffBufferReadBytes  = 0x38 // uint64
	soffBufferWriteBytes = 0x40 // uint64
	soffValidItems       = 0x48 // uint64
	soffDeletedItems     = 0x50 // uint64
	soffCRC32C           = 0x58 // uint32
)

// strandStats holds the seven persisted counters tracked per strand.
//
// ReadBytes/WrittenBytes count device-level I/O; BufferReadBytes/
// BufferWrittenBytes count logical bytes served from or absorbed by the
// reader/writer's page and erase-block caches — the two groups diverge
// whenever a cache serves a request without touching the device.
type strandStats struct {
	ReadBytes        uint64
	WrittenBytes     uint64
	TrimmedBytes     uint64
	BufferReadBytes  uint64
	BufferWriteBytes uint64
	ValidItems       uint64
	DeletedItems     uint64
}

// strandHeader is the on-disk, fixed-size header at the start of a strand.
type strandHeader struct {
	ID       uint16
	Capacity uint64
	Offset   uint64
	Stats    strandStats
}

func encodeStrandHeader(h *strandHeader) []byte {
	buf := make([]byte, strandHeaderSize)

	binary.LittleEndian.PutUint64(buf[soffSignature:], strandSignature)
	binary.LittleEndian.PutUint16(buf[soffID:], h.ID)
	binary.LittleEndian.PutUint64(buf[soffCapacity:], h.Capacity)
	binary.LittleEndian.PutUint64(buf[soffOffset:], h.Offset)
	binary.LittleEndian.PutUint64(buf[soffReadBytes:], h.Stats.ReadBytes)
	binary.LittleEndian.PutUint64(buf[soffWrittenBytes:], h.Stats.WrittenBytes)
	binary.LittleEndian.PutUint64(buf[soffTrimmedBytes:], h.Stats.TrimmedBytes)
	binary.LittleEndian.PutUint64(buf[soffBufferReadBytes:], h.Stats.BufferReadBytes)
	binary.LittleEndian.PutUint64(buf[soffBufferWriteBytes:], h.Stats.BufferWriteBytes)
	binary.LittleEndian.PutUint64(buf[soffValidItems:], h.Stats.ValidItems)
	binary.LittleEndian.PutUint64(buf[soffDeletedItems:], h.Stats.DeletedItems)

	crc := crc32.Checksum(buf[:soffCRC32C], crc32.MakeTable(crc32.Castagnoli))
	binary.LittleEndian.PutUint32(buf[soffCRC32C:], crc)

	return buf
}

func decodeStrandHeader(buf []byte) (strandHeader, error) {
	var h strandHeader

	if len(buf) < strandHeaderSize {
		return h, fmt.Errorf("engine: strand header short read: %w", ErrCorrupt)
	}

	storedCRC := binary.LittleEndian.Uint32(buf[soffCRC32C:])
	computedCRC := crc32.Checksum(buf[:soffCRC32C], crc32.MakeTable(crc32.Castagnoli))

	if storedCRC != computedCRC {
		return h, fmt.Errorf("engine: strand header checksum mismatch: %w", ErrCorrupt)
	}

	sig := binary.LittleEndian.Uint64(buf[soffSignature:])
	if sig != strandSignature {
		return h, fmt.Errorf("engine: strand header signature mismatch: %w", ErrCorrupt)
	}

	h.ID = binary.LittleEndian.Uint16(buf[soffID:])
	h.Capacity = binary.LittleEndian.Uint64(buf[soffCapacity:])
	h.Offset = binary.LittleEndian.Uint64(buf[soffOffset:])
	h.Stats.ReadBytes = binary.LittleEndian.Uint64(buf[soffReadBytes:])
	h.Stats.WrittenBytes = binary.LittleEndian.Uint64(buf[soffWrittenBytes:])
	h.Stats.TrimmedBytes = binary.LittleEndian.Uint64(buf[soffTrimmedBytes:])
	h.Stats.BufferReadBytes = binary.LittleEndian.Uint64(buf[soffBufferReadBytes:])
	h.Stats.BufferWriteBytes = binary.LittleEndian.Uint64(buf[soffBufferWriteBytes:])
	h.Stats.ValidItems = binary.LittleEndian.Uint64(buf[soffValidItems:])
	h.Stats.DeletedItems = binary.LittleEndian.Uint64(buf[soffDeletedItems:])

	return h, nil
}
