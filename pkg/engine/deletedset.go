package engine

import (
	"fmt"
	"sort"
	"sync"
)

// DeletedSet is an ordered set of FilePointers whose item records are
// logically deleted but not yet reclaimed by a (currently unimplemented)
// garbage collector.
type DeletedSet struct {
	mu sync.Mutex
	m  map[uint64]struct{}
}

// NewDeletedSet returns an empty DeletedSet.
func NewDeletedSet() *DeletedSet {
	return &DeletedSet{m: make(map[uint64]struct{})}
}

// Add records p as deleted. p must not already be in the set; a duplicate
// add is a logic error, since it would mean the same record was deleted
// twice.
func (d *DeletedSet) Add(p uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.m[p]; exists {
		panic(fmt.Sprintf("engine: pointer %d deleted twice", p))
	}

	d.m[p] = struct{}{}
}

// Len returns the number of deleted pointers currently tracked.
func (d *DeletedSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.m)
}

// Snapshot returns every deleted pointer, sorted ascending, for
// deterministic DatastoreState serialization.
func (d *DeletedSet) Snapshot() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	ptrs := make([]uint64, 0, len(d.m))
	for p := range d.m {
		ptrs = append(ptrs, p)
	}

	sort.Slice(ptrs, func(i, j int) bool { return ptrs[i] < ptrs[j] })

	return ptrs
}

// DeletedSetFromSnapshot reconstructs a DeletedSet from a decoded
// snapshot. Duplicate pointers in the snapshot indicate on-disk
// corruption rather than a live programming error, so this path returns
// ErrCorrupt instead of panicking.
func DeletedSetFromSnapshot(ptrs []uint64) (*DeletedSet, error) {
	d := NewDeletedSet()

	for _, p := range ptrs {
		if _, exists := d.m[p]; exists {
			return nil, fmt.Errorf("engine: duplicate deleted pointer %d in snapshot: %w", p, ErrCorrupt)
		}

		d.m[p] = struct{}{}
	}

	return d, nil
}
