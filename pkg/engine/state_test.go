package engine

import (
	"errors"
	"testing"
)

func Test_EncodeState_Then_Decode_Round_Trips(t *testing.T) {
	s := DatastoreState{
		Index: []indexEntry{
			{Key: []byte("alpha"), Ptr: 4096},
			{Key: []byte("beta"), Ptr: 8192},
		},
		Deleted: []uint64{16384, 32768},
	}

	got, err := decodeState(encodeState(s))
	if err != nil {
		t.Fatalf("decodeState: %v", err)
	}

	if len(got.Index) != len(s.Index) {
		t.Fatalf("len(Index)=%d, want %d", len(got.Index), len(s.Index))
	}

	for i, e := range s.Index {
		if string(got.Index[i].Key) != string(e.Key) || got.Index[i].Ptr != e.Ptr {
			t.Fatalf("Index[%d]=%+v, want %+v", i, got.Index[i], e)
		}
	}

	if len(got.Deleted) != len(s.Deleted) {
		t.Fatalf("len(Deleted)=%d, want %d", len(got.Deleted), len(s.Deleted))
	}

	for i, p := range s.Deleted {
		if got.Deleted[i] != p {
			t.Fatalf("Deleted[%d]=%d, want %d", i, got.Deleted[i], p)
		}
	}
}

func Test_EncodeState_Round_Trips_Empty_State(t *testing.T) {
	got, err := decodeState(encodeState(DatastoreState{}))
	if err != nil {
		t.Fatalf("decodeState: %v", err)
	}

	if len(got.Index) != 0 || len(got.Deleted) != 0 {
		t.Fatalf("got=%+v, want empty", got)
	}
}

func Test_DecodeState_Rejects_Wrong_Signature(t *testing.T) {
	buf := encodeState(DatastoreState{})
	buf[0] ^= 0xFF

	_, err := decodeState(buf)

	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v, want ErrCorrupt", err)
	}
}

func Test_DecodeState_Detects_Truncated_Payload(t *testing.T) {
	s := DatastoreState{Index: []indexEntry{{Key: []byte("k"), Ptr: 1}}}

	buf := encodeState(s)

	_, err := decodeState(buf[:len(buf)-2])

	if err == nil {
		t.Fatalf("want error for truncated state payload, got nil")
	}
}
