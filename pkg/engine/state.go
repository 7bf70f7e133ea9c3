package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// stateMagic tags the start of an encoded DatastoreState. It guards
// against a stale or misdirected state_ptr landing on an ordinary item
// record: the item codec's own tag byte is shared by every record, so
// without a dedicated signature such a record would decode as a
// plausible-looking but bogus snapshot instead of failing loudly.
const stateMagic = 0x53a7e5cab17da7a5

// DatastoreState is an on-disk snapshot of an Index and a DeletedSet,
// written once on clean close and read back on the next open via the
// volume header's state_ptr.
//
// Its wire format is itself an item record's value (see engine/item.go):
// the snapshot bytes below are what gets passed as `val` to writeItem,
// so the snapshot inherits the item codec's tag/length/checksum framing
// for free rather than needing its own.
//
//	signature     uint64 (stateMagic)
//	indexCount    uvarint
//	  (keyLen uvarint, key bytes, ptr uint64)  × indexCount
//	deletedCount  uvarint
//	  (ptr uint64)                             × deletedCount
type DatastoreState struct {
	Index   []indexEntry
	Deleted []uint64
}

// encodeState serializes s into a flat byte slice suitable for use as an
// item record's value.
func encodeState(s DatastoreState) []byte {
	var buf bytes.Buffer

	var sigBuf [8]byte
	binary.LittleEndian.PutUint64(sigBuf[:], stateMagic)
	buf.Write(sigBuf[:])

	var lenBuf [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(lenBuf[:], uint64(len(s.Index)))
	buf.Write(lenBuf[:n])

	for _, e := range s.Index {
		n = binary.PutUvarint(lenBuf[:], uint64(len(e.Key)))
		buf.Write(lenBuf[:n])
		buf.Write(e.Key)

		var ptrBuf [8]byte
		binary.LittleEndian.PutUint64(ptrBuf[:], e.Ptr)
		buf.Write(ptrBuf[:])
	}

	n = binary.PutUvarint(lenBuf[:], uint64(len(s.Deleted)))
	buf.Write(lenBuf[:n])

	for _, p := range s.Deleted {
		var ptrBuf [8]byte
		binary.LittleEndian.PutUint64(ptrBuf[:], p)
		buf.Write(ptrBuf[:])
	}

	return buf.Bytes()
}

// decodeState parses a byte slice previously produced by encodeState.
func decodeState(data []byte) (DatastoreState, error) {
	var s DatastoreState

	r := bytes.NewReader(data)

	var sigBuf [8]byte

	_, err := r.Read(sigBuf[:])
	if err != nil {
		return s, fmt.Errorf("engine: decode state signature: %w", ErrCorrupt)
	}

	if binary.LittleEndian.Uint64(sigBuf[:]) != stateMagic {
		return s, fmt.Errorf("engine: decode state signature mismatch: %w", ErrCorrupt)
	}

	indexCount, err := binary.ReadUvarint(r)
	if err != nil {
		return s, fmt.Errorf("engine: decode state index count: %w", ErrCorrupt)
	}

	s.Index = make([]indexEntry, 0, indexCount)

	for i := uint64(0); i < indexCount; i++ {
		keyLen, err := binary.ReadUvarint(r)
		if err != nil {
			return s, fmt.Errorf("engine: decode state key length: %w", ErrCorrupt)
		}

		if keyLen == 0 || keyLen > MaxKeyLen {
			return s, fmt.Errorf("engine: decode state key length %d: %w", keyLen, ErrCorrupt)
		}

		key := make([]byte, keyLen)

		_, err = r.Read(key)
		if err != nil {
			return s, fmt.Errorf("engine: decode state key bytes: %w", ErrCorrupt)
		}

		var ptrBuf [8]byte

		_, err = r.Read(ptrBuf[:])
		if err != nil {
			return s, fmt.Errorf("engine: decode state pointer: %w", ErrCorrupt)
		}

		s.Index = append(s.Index, indexEntry{Key: key, Ptr: binary.LittleEndian.Uint64(ptrBuf[:])})
	}

	deletedCount, err := binary.ReadUvarint(r)
	if err != nil {
		return s, fmt.Errorf("engine: decode state deleted count: %w", ErrCorrupt)
	}

	s.Deleted = make([]uint64, 0, deletedCount)

	for i := uint64(0); i < deletedCount; i++ {
		var ptrBuf [8]byte

		_, err = r.Read(ptrBuf[:])
		if err != nil {
			return s, fmt.Errorf("engine: decode state deleted pointer: %w", ErrCorrupt)
		}

		s.Deleted = append(s.Deleted, binary.LittleEndian.Uint64(ptrBuf[:]))
	}

	return s, nil
}
