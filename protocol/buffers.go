package protocol

// InputBuffer is a queue of received bytes awaiting framing
type InputBuffer interface {
	Data() []byte
	Available() int
	Pop(n int)
}

// OutputBuffer collects encoded bytes. Update patches a byte that was
// already written, which is how frame headers get their final length.
type OutputBuffer interface {
	Output(data []byte)
	CurPosition() int
	Update(pos int, val byte)
	DataSince(pos int) []byte
}

// SliceInputBuffer implements InputBuffer over a byte slice
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte   { return s.data }
func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput is a fixed-size OutputBuffer. Writes past MessageMax are
// dropped and counted.
type ScratchOutput struct {
	buf      [MessageMax]byte
	pos      int
	overflow int
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	s.overflow += len(data) - n
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns the accumulated output
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Overflow reports how many bytes did not fit
func (s *ScratchOutput) Overflow() int { return s.overflow }

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = 0
}

// FifoBuffer is a bounded byte queue for serial input. Unread bytes are
// kept contiguous so Data never has to copy.
type FifoBuffer struct {
	buf  []byte
	head int
	tail int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count written.
func (f *FifoBuffer) Write(data []byte) int {
	if f.tail+len(data) > len(f.buf) && f.head > 0 {
		f.compact()
	}
	n := copy(f.buf[f.tail:], data)
	f.tail += n
	return n
}

// Read moves up to len(data) bytes out of the queue.
func (f *FifoBuffer) Read(data []byte) int {
	n := copy(data, f.buf[f.head:f.tail])
	f.Pop(n)
	return n
}

func (f *FifoBuffer) compact() {
	n := copy(f.buf, f.buf[f.head:f.tail])
	f.head = 0
	f.tail = n
}

func (f *FifoBuffer) Available() int { return f.tail - f.head }
func (f *FifoBuffer) Free() int      { return len(f.buf) - f.Available() }
func (f *FifoBuffer) Data() []byte   { return f.buf[f.head:f.tail] }
func (f *FifoBuffer) IsEmpty() bool  { return f.head == f.tail }

func (f *FifoBuffer) Pop(n int) {
	f.head = min(f.head+n, f.tail)
	if f.head == f.tail {
		f.head, f.tail = 0, 0
	}
}

func (f *FifoBuffer) Reset() {
	f.head, f.tail = 0, 0
}
