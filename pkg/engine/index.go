package engine

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// slot is one entry in the Index: a file pointer and whether the slot is
// currently locked for an in-flight mutation.
type slot struct {
	ptr    uint64
	locked bool
}

// Index is a map from key to FilePointer with a per-key exclusive lock
// that doubles as the write-intent for the storage log. The map itself is
// unordered; only Snapshot sorts entries by key.
//
// Acquisition briefly takes the map-wide mutex to flip a slot's locked
// bit (or insert a fresh locked-empty slot); release takes it again to
// publish the committed pointer or remove the slot. Between those two
// brief critical sections, the caller holds exclusive ownership of the
// key with no lock held over disk I/O.
type Index struct {
	mu   sync.Mutex
	cond *sync.Cond
	m    map[string]*slot
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	idx := &Index{m: make(map[string]*slot)}
	idx.cond = sync.NewCond(&idx.mu)

	return idx
}

// Exists reports whether key has a live (unlocked) entry.
func (idx *Index) Exists(key []byte) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s, ok := idx.m[string(key)]

	return ok && !s.locked
}

// Lookup returns the FilePointer for key if it has a live entry.
func (idx *Index) Lookup(key []byte) (uint64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s, ok := idx.m[string(key)]
	if !ok || s.locked {
		return 0, false
	}

	return s.ptr, true
}

// Entry is a guard returned by Lock/TryLock representing exclusive
// ownership of a key's slot. The caller MUST call Commit exactly once to
// release the lock; failing to do so is a programming error that a
// finalizer catches and panics on, since Go has no destructors to do this
// automatically.
type Entry struct {
	idx       *Index
	key       string
	ptr       uint64
	hadPtr    bool
	committed bool
}

// Key returns the locked key.
func (e *Entry) Key() []byte {
	return []byte(e.key)
}

// Value returns the pointer the slot held when it was locked, and whether
// one existed (false for a newly-created slot from an absent key).
func (e *Entry) Value() (uint64, bool) {
	return e.ptr, e.hadPtr
}

// Commit releases the lock. If ptr is non-nil, the slot is published as
// (*ptr, unlocked); if ptr is nil, the slot is removed entirely. This is
// how insert, update, put, and remove all commit atomically with respect
// to concurrent readers and lockers of the same key.
func (e *Entry) Commit(ptr *uint64) {
	if e.committed {
		panic("engine: Entry.Commit called twice for key " + e.key)
	}

	e.committed = true
	runtime.SetFinalizer(e, nil)

	e.idx.mu.Lock()

	if ptr == nil {
		delete(e.idx.m, e.key)
	} else {
		e.idx.m[e.key] = &slot{ptr: *ptr, locked: false}
	}

	e.idx.mu.Unlock()
	e.idx.cond.Broadcast()
}

func entryFinalizer(e *Entry) {
	if !e.committed {
		panic("engine: Entry for key " + e.key + " was garbage-collected without Commit")
	}
}

// Lock acquires exclusive ownership of key's slot, blocking until it's
// free. A key with no existing entry is created in a locked, empty state.
func (idx *Index) Lock(key []byte) *Entry {
	k := string(key)

	idx.mu.Lock()

	for {
		s, ok := idx.m[k]
		if !ok {
			idx.m[k] = &slot{locked: true}

			break
		}

		if !s.locked {
			s.locked = true

			break
		}

		idx.cond.Wait()
	}

	// ptr == 0 unambiguously means "absent": offset 0 always falls inside
	// the volume header and is never a valid FilePointer.
	s := idx.m[k]
	e := &Entry{idx: idx, key: k, ptr: s.ptr, hadPtr: s.ptr != 0}

	idx.mu.Unlock()

	runtime.SetFinalizer(e, entryFinalizer)

	return e
}

// TryLock attempts to acquire key's slot without blocking. Returns nil if
// the slot is currently locked by someone else.
func (idx *Index) TryLock(key []byte) *Entry {
	k := string(key)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	s, ok := idx.m[k]
	if ok && s.locked {
		return nil
	}

	if !ok {
		idx.m[k] = &slot{locked: true}
		s = idx.m[k]
	} else {
		s.locked = true
	}

	e := &Entry{idx: idx, key: k, ptr: s.ptr, hadPtr: s.ptr != 0}

	runtime.SetFinalizer(e, entryFinalizer)

	return e
}

// Len returns the number of entries currently in the index, including
// locked ones.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return len(idx.m)
}

// indexEntry is one (key, pointer) pair, used for DatastoreState
// snapshots and FromSnapshot reconstruction.
type indexEntry struct {
	Key []byte
	Ptr uint64
}

// Snapshot returns every live entry, sorted by key, for deterministic
// DatastoreState serialization. Index has no native ordering requirement
// (Go's map is unordered and range scans are out of scope), so the sort
// exists purely to make snapshot bytes reproducible across runs with the
// same logical contents.
func (idx *Index) Snapshot() []indexEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries := make([]indexEntry, 0, len(idx.m))

	for k, s := range idx.m {
		if s.locked {
			continue
		}

		entries = append(entries, indexEntry{Key: []byte(k), Ptr: s.ptr})
	}

	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].Key) < string(entries[j].Key)
	})

	return entries
}

// FromSnapshot reconstructs an Index from a decoded snapshot, validating
// that every key's length is in range, that no key repeats, and that no
// entry is locked (a snapshot never persists lock state).
func FromSnapshot(entries []indexEntry) (*Index, error) {
	idx := NewIndex()

	for _, e := range entries {
		if len(e.Key) == 0 || len(e.Key) > MaxKeyLen {
			return nil, fmt.Errorf("engine: snapshot key length %d: %w", len(e.Key), ErrCorrupt)
		}

		k := string(e.Key)

		if _, exists := idx.m[k]; exists {
			return nil, fmt.Errorf("engine: duplicate key %q in snapshot: %w", k, ErrCorrupt)
		}

		idx.m[k] = &slot{ptr: e.Ptr, locked: false}
	}

	return idx, nil
}
