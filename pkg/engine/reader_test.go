package engine

import (
	"io"
	"testing"

	"github.com/calvinalkan/strandstore/pkg/device"
)

func Test_StrandReader_Reads_Bytes_Written_Via_Strand(t *testing.T) {
	s, _ := newTestStrand(t, 4*device.PageSize)

	want := []byte("hello strand reader")

	if err := s.Write(device.PageSize, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := newStrandReader(s, s.Start()+device.PageSize)
	if err != nil {
		t.Fatalf("newStrandReader: %v", err)
	}

	got := make([]byte, len(want))

	n, err := io.ReadFull(r, got)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}

	if n != len(want) || string(got) != string(want) {
		t.Fatalf("got=%q, want=%q", got, want)
	}
}

func Test_StrandReader_Returns_EOF_At_Capacity(t *testing.T) {
	s, _ := newTestStrand(t, 2*device.PageSize)

	r, err := newStrandReader(s, s.Start()+s.Capacity()-1)
	if err != nil {
		t.Fatalf("newStrandReader: %v", err)
	}

	if _, err := r.Read(make([]byte, 1)); err != nil {
		t.Fatalf("Read last byte: %v", err)
	}

	_, err = r.Read(make([]byte, 1))

	if err != io.EOF {
		t.Fatalf("err=%v, want io.EOF", err)
	}
}

func Test_StrandReader_ReadByte_Advances_Cursor_Across_Page_Boundary(t *testing.T) {
	s, _ := newTestStrand(t, 4*device.PageSize)

	buf := make([]byte, 2*device.PageSize)
	for i := range buf {
		buf[i] = byte(i)
	}

	if err := s.Write(device.PageSize, buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := newStrandReader(s, s.Start()+device.PageSize)
	if err != nil {
		t.Fatalf("newStrandReader: %v", err)
	}

	for i := 0; i < len(buf); i++ {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte at %d: %v", i, err)
		}

		if b != buf[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, b, buf[i])
		}
	}
}

func Test_NewStrandReader_Rejects_Pointer_Outside_Strand(t *testing.T) {
	s, _ := newTestStrand(t, 2*device.PageSize)

	_, err := newStrandReader(s, s.Start()+s.Capacity()+device.PageSize)

	if err == nil {
		t.Fatalf("want error for out-of-range pointer, got nil")
	}
}
