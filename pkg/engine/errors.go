package engine

import "errors"

// Error classification sentinels.
//
// Errors this package classifies wrap one of these with additional
// context via fmt.Errorf("%w: ...") (see ErrIO for the device failures
// that are returned unclassified). Callers MUST
// classify errors using errors.Is against these sentinels rather than
// comparing strings.
var (
	// ErrCorrupt indicates an on-disk structure failed a checksum or
	// framing check: a header, an item record, or a DatastoreState
	// snapshot.
	ErrCorrupt = errors.New("engine: corrupt data")

	// ErrIncompatibleVersion indicates a volume's on-disk major version
	// does not match the version this build writes.
	ErrIncompatibleVersion = errors.New("engine: incompatible version")

	// ErrBadArgument indicates a caller-supplied argument (Options mode,
	// strand count, an out-of-range strand offset or pointer, ...) failed
	// validation before any I/O was attempted. Invalid keys and values are
	// reported as ErrInvalidKey and ErrInvalidValue instead.
	ErrBadArgument = errors.New("engine: bad argument")

	// ErrOutOfSpace indicates a strand (or, if multi-strand fallback were
	// implemented, the volume) has no room left for an append.
	ErrOutOfSpace = errors.New("engine: out of space")

	// ErrItemExists indicates Insert found an existing, non-deleted entry
	// for the key.
	ErrItemExists = errors.New("engine: item exists")

	// ErrItemNotFound indicates Lookup, Update, or Delete found no
	// live entry for the key.
	ErrItemNotFound = errors.New("engine: item not found")

	// ErrInvalidKey indicates a key's length is zero or exceeds
	// [MaxKeyLen].
	ErrInvalidKey = errors.New("engine: invalid key")

	// ErrInvalidValue indicates a value's length exceeds [MaxValLen].
	ErrInvalidValue = errors.New("engine: invalid value")

	// ErrUnimplemented indicates a recognized but not-yet-implemented
	// operation was requested (currently: Reindex).
	ErrUnimplemented = errors.New("engine: unimplemented")

	// ErrNetwork is reserved for a future networked transport; nothing in
	// this package returns it today.
	ErrNetwork = errors.New("engine: network")

	// ErrIO wraps a failure reported by the underlying device.Device in
	// Strand.Read, Strand.Write and Strand.Trim. The original error (often
	// a syscall.Errno) is still reachable through errors.As because those
	// call sites wrap it with %w alongside ErrIO. Device failures while
	// reading or writing a strand header or the volume header, and the
	// TRIM issued by ModeTruncate, are returned without ErrIO.
	ErrIO = errors.New("engine: io error")

	// ErrClosed indicates an operation was attempted on a Store or Volume
	// after Close returned.
	ErrClosed = errors.New("engine: closed")
)
