// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. The output is readable by any zlib decoder, and writing
// it needs no compression tables, which keeps firmware builds small.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// MaxStoredBlock is the largest payload a stored block can carry.
const MaxStoredBlock = 65535

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written to it and emits the zlib stream on Close.
type Writer struct {
	output io.Writer
	input  []byte
	closed bool
}

// NewWriter creates a Writer sending its stream to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{output: w}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.input = append(w.input, p...)
	return len(p), nil
}

// Close emits the header, the stored blocks and the Adler-32 trailer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	out := make([]byte, 0, StoredLen(len(w.input)))
	out = append(out, 0x78, 0x01) // deflate, 32K window, no preset dictionary

	rest := w.input
	for {
		n := len(rest)
		if n > MaxStoredBlock {
			n = MaxStoredBlock
		}
		final := byte(0)
		if n == len(rest) {
			final = 1
		}
		l := uint16(n)
		out = append(out, final, byte(l), byte(l>>8), byte(^l), byte(^l>>8))
		out = append(out, rest[:n]...)
		rest = rest[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(w.input)
	out = append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))

	_, err := w.output.Write(out)
	return err
}

// StoredLen returns the stream size for n input bytes.
func StoredLen(n int) int {
	blocks := n / MaxStoredBlock
	if n%MaxStoredBlock != 0 || n == 0 {
		blocks++
	}
	return 2 + blocks*5 + n + 4
}

// Compress is a convenience wrapper returning the stream for data.
func Compress(data []byte) ([]byte, error) {
	var buf sliceWriter
	w := NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.b, nil
}

type sliceWriter struct{ b []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}
