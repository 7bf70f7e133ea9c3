package engine

import (
	"errors"
	"testing"

	"github.com/calvinalkan/strandstore/pkg/device"
)

func Test_StrandWriter_Write_Then_StrandReader_Reads_It_Back(t *testing.T) {
	s, _ := newTestStrand(t, 4*device.PageSize)

	w := newStrandWriter(s, true)

	ptr := w.GetPointer()

	payload := []byte("written through strand writer")

	n, err := w.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if n != len(payload) {
		t.Fatalf("n=%d, want %d", n, len(payload))
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r, err := newStrandReader(s, ptr)
	if err != nil {
		t.Fatalf("newStrandReader: %v", err)
	}

	got := make([]byte, len(payload))

	for i := range got {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte: %v", err)
		}

		got[i] = b
	}

	if string(got) != string(payload) {
		t.Fatalf("got=%q, want=%q", got, payload)
	}
}

func Test_StrandWriter_UpdateOffset_False_Does_Not_Advance_Strand_Cursor(t *testing.T) {
	s, _ := newTestStrand(t, 4*device.PageSize)

	before := s.Offset()

	w := newStrandWriter(s, false)

	if _, err := w.Write([]byte("snapshot payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := s.Offset(); got != before {
		t.Fatalf("strand offset=%d, want unchanged %d", got, before)
	}
}

func Test_StrandWriter_UpdateOffset_True_Advances_Strand_Cursor(t *testing.T) {
	s, _ := newTestStrand(t, 4*device.PageSize)

	before := s.Offset()

	w := newStrandWriter(s, true)

	payload := []byte("advance me")

	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, want := s.Offset(), before+uint64(len(payload)); got != want {
		t.Fatalf("strand offset=%d, want %d", got, want)
	}
}

func Test_StrandWriter_Write_Rejects_Beyond_Remaining_Capacity(t *testing.T) {
	s, _ := newTestStrand(t, 2*device.PageSize)

	w := newStrandWriter(s, true)

	_, err := w.Write(make([]byte, device.PageSize+1))

	if !errors.Is(err, ErrOutOfSpace) {
		t.Fatalf("err=%v, want ErrOutOfSpace", err)
	}
}

func Test_StrandWriter_Write_Across_Erase_Block_Boundary_Preserves_Prior_Bytes(t *testing.T) {
	s, _ := newTestStrand(t, 4*device.TrimSize)

	w := newStrandWriter(s, true)

	first := make([]byte, device.TrimSize-device.PageSize)
	for i := range first {
		first[i] = 0x11
	}

	ptr := w.GetPointer()

	if _, err := w.Write(first); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	second := make([]byte, 2*device.PageSize)
	for i := range second {
		second[i] = 0x22
	}

	if _, err := w.Write(second); err != nil {
		t.Fatalf("Write second: %v", err)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r, err := newStrandReader(s, ptr)
	if err != nil {
		t.Fatalf("newStrandReader: %v", err)
	}

	want := append(append([]byte(nil), first...), second...)

	got := make([]byte, len(want))

	for i := range got {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte at %d: %v", i, err)
		}

		got[i] = b
	}

	if string(got) != string(want) {
		t.Fatalf("readback mismatch across erase block boundary")
	}
}
