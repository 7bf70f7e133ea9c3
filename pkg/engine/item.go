package engine

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// itemTag marks the start of an item record, letting a reader that has
// lost its place (after a torn write, say) resynchronize by scanning for
// this byte instead of trusting an offset blindly.
const itemTag = 0xA1

// itemTrailerLen is the length of the checksum trailer, in bytes.
const itemTrailerLen = 8

// writeItem appends key/val to w in the on-disk item record format:
//
//	tag(1) ++ uvarint(len(key)) ++ uvarint(len(val)) ++ key ++ val ++ xxhash64(tag..val)
//
// The checksum covers everything written before it, so a reader can
// detect a torn or bit-flipped record without consulting anything else.
func writeItem(w io.Writer, key, val []byte) (int, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return 0, fmt.Errorf("engine: key length %d: %w", len(key), ErrInvalidKey)
	}

	if uint64(len(val)) > MaxValLen {
		return 0, fmt.Errorf("engine: value length %d: %w", len(val), ErrInvalidValue)
	}

	var lenBuf [binary.MaxVarintLen64]byte

	digest := xxhash.New()
	mw := io.MultiWriter(w, digest)

	total := 0

	n, err := mw.Write([]byte{itemTag})
	total += n
	if err != nil {
		return total, fmt.Errorf("engine: write item tag: %w", err)
	}

	n = binary.PutUvarint(lenBuf[:], uint64(len(key)))
	written, err := mw.Write(lenBuf[:n])
	total += written
	if err != nil {
		return total, fmt.Errorf("engine: write key length: %w", err)
	}

	n = binary.PutUvarint(lenBuf[:], uint64(len(val)))
	written, err = mw.Write(lenBuf[:n])
	total += written
	if err != nil {
		return total, fmt.Errorf("engine: write value length: %w", err)
	}

	written, err = mw.Write(key)
	total += written
	if err != nil {
		return total, fmt.Errorf("engine: write key: %w", err)
	}

	written, err = mw.Write(val)
	total += written
	if err != nil {
		return total, fmt.Errorf("engine: write value: %w", err)
	}

	var sumBuf [itemTrailerLen]byte
	binary.LittleEndian.PutUint64(sumBuf[:], digest.Sum64())

	written, err = w.Write(sumBuf[:])
	total += written
	if err != nil {
		return total, fmt.Errorf("engine: write item checksum: %w", err)
	}

	return total, nil
}

// itemLen returns the total on-disk size of a record holding keyLen and
// valLen bytes, for callers that need to know how far to advance a cursor
// without re-reading the record.
func itemLen(keyLen, valLen int) int {
	var lenBuf [binary.MaxVarintLen64]byte

	n := 1
	n += binary.PutUvarint(lenBuf[:], uint64(keyLen))
	n += binary.PutUvarint(lenBuf[:], uint64(valLen))
	n += keyLen
	n += valLen
	n += itemTrailerLen

	return n
}

// readItem decodes one item record from r, which must support both
// io.Reader and io.ByteReader (required by binary.ReadUvarint). Returns
// the decoded key and value, or ErrCorrupt if the tag, framing, or
// checksum don't line up.
func readItem(r interface {
	io.Reader
	io.ByteReader
}) (key, val []byte, err error) {
	digest := xxhash.New()
	tr := io.TeeReader(r, digest)

	var tagBuf [1]byte

	_, err = io.ReadFull(tr, tagBuf[:])
	if err != nil {
		return nil, nil, fmt.Errorf("engine: read item tag: %w", err)
	}

	if tagBuf[0] != itemTag {
		return nil, nil, fmt.Errorf("engine: item tag %#x: %w", tagBuf[0], ErrCorrupt)
	}

	teeReader := &teeByteReader{tr: tr}

	keyLen, err := binary.ReadUvarint(teeReader)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: read key length: %w", ErrCorrupt)
	}

	valLen, err := binary.ReadUvarint(teeReader)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: read value length: %w", ErrCorrupt)
	}

	if keyLen == 0 || keyLen > MaxKeyLen {
		return nil, nil, fmt.Errorf("engine: decoded key length %d: %w", keyLen, ErrCorrupt)
	}

	if valLen > MaxValLen {
		return nil, nil, fmt.Errorf("engine: decoded value length %d: %w", valLen, ErrCorrupt)
	}

	key = make([]byte, keyLen)

	_, err = io.ReadFull(tr, key)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: read key bytes: %w", ErrCorrupt)
	}

	val = make([]byte, valLen)

	_, err = io.ReadFull(tr, val)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: read value bytes: %w", ErrCorrupt)
	}

	want := digest.Sum64()

	var sumBuf [itemTrailerLen]byte

	_, err = io.ReadFull(r, sumBuf[:])
	if err != nil {
		return nil, nil, fmt.Errorf("engine: read item checksum: %w", ErrCorrupt)
	}

	got := binary.LittleEndian.Uint64(sumBuf[:])
	if got != want {
		return nil, nil, fmt.Errorf("engine: item checksum mismatch: %w", ErrCorrupt)
	}

	return key, val, nil
}

// teeByteReader reads a single byte through tr (so it's tee'd into the
// running checksum) while satisfying io.ByteReader for binary.ReadUvarint,
// which only accepts that narrower interface.
type teeByteReader struct {
	tr io.Reader
}

func (b *teeByteReader) ReadByte() (byte, error) {
	var buf [1]byte

	_, err := io.ReadFull(b.tr, buf[:])
	if err != nil {
		return 0, err
	}

	return buf[0], nil
}
