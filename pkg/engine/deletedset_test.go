package engine

import (
	"errors"
	"testing"
)

func Test_DeletedSet_Add_Then_Snapshot_Is_Sorted(t *testing.T) {
	d := NewDeletedSet()

	for _, p := range []uint64{300, 100, 200} {
		d.Add(p)
	}

	if got := d.Len(); got != 3 {
		t.Fatalf("Len()=%d, want 3", got)
	}

	snap := d.Snapshot()

	want := []uint64{100, 200, 300}
	for i, p := range want {
		if snap[i] != p {
			t.Fatalf("snap[%d]=%d, want %d", i, snap[i], p)
		}
	}
}

func Test_DeletedSet_Add_Duplicate_Panics(t *testing.T) {
	d := NewDeletedSet()
	d.Add(42)

	defer func() {
		if recover() == nil {
			t.Fatalf("want panic on duplicate Add")
		}
	}()

	d.Add(42)
}

func Test_DeletedSetFromSnapshot_Rejects_Duplicate_Pointer(t *testing.T) {
	_, err := DeletedSetFromSnapshot([]uint64{1, 2, 1})

	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v, want ErrCorrupt", err)
	}
}

func Test_DeletedSetFromSnapshot_Round_Trips(t *testing.T) {
	d, err := DeletedSetFromSnapshot([]uint64{5, 6, 7})
	if err != nil {
		t.Fatalf("DeletedSetFromSnapshot: %v", err)
	}

	if got := d.Len(); got != 3 {
		t.Fatalf("Len()=%d, want 3", got)
	}
}
