// Package engine implements a log-structured, append-only key/value
// storage engine over a device.Device: parallel append-only regions
// called strands, an in-memory Index with per-key locking, a ReadCache,
// and an on-disk format (volume header, strand headers, item records,
// and a DatastoreState snapshot used for fast reopen).
//
// Store is the package's public entry point; Open constructs the lower
// Volume/Index/DeletedSet layers it's built from directly, for callers
// that want to drive strand-level reads and writes themselves (tests,
// a future reindex implementation).
package engine
