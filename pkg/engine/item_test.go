package engine

import (
	"bytes"
	"errors"
	"testing"
)

func Test_WriteItem_Then_ReadItem_Round_Trips(t *testing.T) {
	var buf bytes.Buffer

	n, err := writeItem(&buf, []byte("hello"), []byte("world"))
	if err != nil {
		t.Fatalf("writeItem: %v", err)
	}

	if n != buf.Len() {
		t.Fatalf("writeItem returned n=%d, buf holds %d bytes", n, buf.Len())
	}

	if want := itemLen(5, 5); n != want {
		t.Fatalf("writeItem returned n=%d, itemLen=%d", n, want)
	}

	key, val, err := readItem(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readItem: %v", err)
	}

	if string(key) != "hello" {
		t.Fatalf("key=%q, want %q", key, "hello")
	}

	if string(val) != "world" {
		t.Fatalf("val=%q, want %q", val, "world")
	}
}

func Test_WriteItem_Round_Trips_Empty_Value(t *testing.T) {
	var buf bytes.Buffer

	if _, err := writeItem(&buf, []byte("k"), nil); err != nil {
		t.Fatalf("writeItem: %v", err)
	}

	key, val, err := readItem(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("readItem: %v", err)
	}

	if string(key) != "k" || len(val) != 0 {
		t.Fatalf("key=%q val=%q, want k/empty", key, val)
	}
}

func Test_WriteItem_Rejects_Empty_Key(t *testing.T) {
	var buf bytes.Buffer

	_, err := writeItem(&buf, nil, []byte("v"))

	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err=%v, want ErrInvalidKey", err)
	}
}

func Test_WriteItem_Rejects_Oversized_Key(t *testing.T) {
	var buf bytes.Buffer

	_, err := writeItem(&buf, make([]byte, MaxKeyLen+1), []byte("v"))

	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err=%v, want ErrInvalidKey", err)
	}
}

func Test_ReadItem_Rejects_Wrong_Tag(t *testing.T) {
	var buf bytes.Buffer

	if _, err := writeItem(&buf, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("writeItem: %v", err)
	}

	corrupt := buf.Bytes()
	corrupt[0] = 0xFF

	_, _, err := readItem(bytes.NewReader(corrupt))

	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v, want ErrCorrupt", err)
	}
}

func Test_ReadItem_Detects_Checksum_Mismatch(t *testing.T) {
	var buf bytes.Buffer

	if _, err := writeItem(&buf, []byte("k"), []byte("value")); err != nil {
		t.Fatalf("writeItem: %v", err)
	}

	corrupt := buf.Bytes()
	corrupt[len(corrupt)-3] ^= 0xFF

	_, _, err := readItem(bytes.NewReader(corrupt))

	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err=%v, want ErrCorrupt", err)
	}
}

func Test_ReadItem_Detects_Truncated_Record(t *testing.T) {
	var buf bytes.Buffer

	if _, err := writeItem(&buf, []byte("k"), []byte("value")); err != nil {
		t.Fatalf("writeItem: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-2]

	_, _, err := readItem(bytes.NewReader(truncated))

	if err == nil {
		t.Fatalf("want error for truncated record, got nil")
	}
}

func Test_ItemLen_Matches_Encoded_Size_For_Large_Lengths(t *testing.T) {
	key := make([]byte, 300)
	val := make([]byte, 1<<20)

	var buf bytes.Buffer

	n, err := writeItem(&buf, key, val)
	if err != nil {
		t.Fatalf("writeItem: %v", err)
	}

	if want := itemLen(len(key), len(val)); n != want {
		t.Fatalf("n=%d, itemLen=%d", n, want)
	}
}
