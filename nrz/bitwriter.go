package nrz

// BitWriter packs bit fields edge to edge into a byte slice, most significant
// bit first. Bytes are cleared as the cursor enters them, so the target does
// not need to be zeroed beforehand.
type BitWriter struct {
	buf []byte
	pos int   // byte cursor
	bit uint8 // bits already used in buf[pos]
}

// NewBitWriter returns a writer positioned at the start of buf.
func NewBitWriter(buf []byte) *BitWriter {
	return &BitWriter{buf: buf}
}

// Reset rewinds the writer onto buf.
func (w *BitWriter) Reset(buf []byte) {
	w.buf = buf
	w.pos = 0
	w.bit = 0
}

// WriteBits appends the low n bits of v (n <= 32). It panics if the
// underlying buffer is exhausted.
func (w *BitWriter) WriteBits(v uint32, n uint) {
	if n > 32 {
		panic("nrz: bit field wider than 32 bits")
	}
	for n > 0 {
		if w.bit == 0 {
			w.buf[w.pos] = 0
		}
		free := 8 - uint(w.bit)
		take := free
		if n < take {
			take = n
		}
		field := byte(v>>(n-take)) & byte(1<<take-1)
		w.buf[w.pos] |= field << (free - take)
		w.bit += uint8(take)
		n -= take
		if w.bit == 8 {
			w.bit = 0
			w.pos++
		}
	}
}

// Len returns the number of bytes touched so far, counting a partial byte.
func (w *BitWriter) Len() int {
	if w.bit != 0 {
		return w.pos + 1
	}
	return w.pos
}

// Aligned reports whether the cursor sits on a byte boundary.
func (w *BitWriter) Aligned() bool {
	return w.bit == 0
}
