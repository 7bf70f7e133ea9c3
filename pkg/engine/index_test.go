package engine

import (
	"errors"
	"testing"
	"time"
)

func Test_Index_Lock_New_Key_Has_No_Value(t *testing.T) {
	idx := NewIndex()

	e := idx.Lock([]byte("k"))

	if _, ok := e.Value(); ok {
		t.Fatalf("Value() ok=true for brand-new key")
	}

	e.Commit(nil)
}

func Test_Index_Commit_Publishes_Pointer_Visible_To_Lookup(t *testing.T) {
	idx := NewIndex()

	e := idx.Lock([]byte("k"))

	ptr := uint64(4096)

	e.Commit(&ptr)

	got, ok := idx.Lookup([]byte("k"))
	if !ok || got != ptr {
		t.Fatalf("Lookup()=(%d,%v), want (%d,true)", got, ok, ptr)
	}

	if !idx.Exists([]byte("k")) {
		t.Fatalf("Exists()=false after Commit")
	}
}

func Test_Index_Commit_Nil_Removes_Entry(t *testing.T) {
	idx := NewIndex()

	ptr := uint64(8192)
	idx.Lock([]byte("k")).Commit(&ptr)

	idx.Lock([]byte("k")).Commit(nil)

	if idx.Exists([]byte("k")) {
		t.Fatalf("Exists()=true after Commit(nil)")
	}
}

func Test_Index_Commit_Twice_Panics(t *testing.T) {
	idx := NewIndex()

	e := idx.Lock([]byte("k"))
	e.Commit(nil)

	defer func() {
		if recover() == nil {
			t.Fatalf("want panic on second Commit")
		}
	}()

	e.Commit(nil)
}

func Test_Index_Lock_Blocks_Until_Prior_Holder_Commits(t *testing.T) {
	idx := NewIndex()

	first := idx.Lock([]byte("k"))

	done := make(chan struct{})

	go func() {
		second := idx.Lock([]byte("k"))
		second.Commit(nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second Lock returned before first Commit")
	case <-time.After(20 * time.Millisecond):
	}

	first.Commit(nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("second Lock never returned after first Commit")
	}
}

func Test_Index_TryLock_Returns_Nil_When_Already_Locked(t *testing.T) {
	idx := NewIndex()

	first := idx.Lock([]byte("k"))

	if idx.TryLock([]byte("k")) != nil {
		t.Fatalf("TryLock() != nil while key held")
	}

	first.Commit(nil)
}

func Test_Index_Snapshot_Excludes_Locked_Entries_And_Is_Sorted(t *testing.T) {
	idx := NewIndex()

	for i, k := range []string{"banana", "apple", "cherry"} {
		ptr := uint64(4096 * (i + 1))
		idx.Lock([]byte(k)).Commit(&ptr)
	}

	locked := idx.Lock([]byte("locked-key"))

	snap := idx.Snapshot()

	if len(snap) != 3 {
		t.Fatalf("len(snap)=%d, want 3", len(snap))
	}

	for i := 1; i < len(snap); i++ {
		if string(snap[i-1].Key) >= string(snap[i].Key) {
			t.Fatalf("snapshot not sorted: %q >= %q", snap[i-1].Key, snap[i].Key)
		}
	}

	locked.Commit(nil)
}

func Test_FromSnapshot_Rejects_Oversized_Key(t *testing.T) {
	_, err := FromSnapshot([]indexEntry{{Key: make([]byte, MaxKeyLen+1), Ptr: 1}})

	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v, want ErrCorrupt", err)
	}
}

func Test_FromSnapshot_Rejects_Duplicate_Key(t *testing.T) {
	_, err := FromSnapshot([]indexEntry{
		{Key: []byte("k"), Ptr: 1},
		{Key: []byte("k"), Ptr: 2},
	})

	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v, want ErrCorrupt", err)
	}
}

func Test_FromSnapshot_Then_Lookup_Round_Trips(t *testing.T) {
	idx, err := FromSnapshot([]indexEntry{{Key: []byte("k"), Ptr: 77}})
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}

	got, ok := idx.Lookup([]byte("k"))
	if !ok || got != 77 {
		t.Fatalf("Lookup()=(%d,%v), want (77,true)", got, ok)
	}
}
