package tinycompress

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"
)

func TestWriterRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 300, MaxStoredBlock, MaxStoredBlock + 1, 2*MaxStoredBlock + 17}
	for _, size := range sizes {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i * 13)
		}

		stream, err := Compress(data)
		if err != nil {
			t.Fatalf("size %d: Compress failed: %v", size, err)
		}
		if len(stream) != StoredLen(size) {
			t.Errorf("size %d: expected %d stream bytes, got %d", size, StoredLen(size), len(stream))
		}

		r, err := zlib.NewReader(bytes.NewReader(stream))
		if err != nil {
			t.Fatalf("size %d: zlib header rejected: %v", size, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("size %d: zlib stream rejected: %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("size %d: round trip mismatch", size)
		}
	}
}

func TestWriterRejectsWriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Write([]byte("abc"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("d")); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
