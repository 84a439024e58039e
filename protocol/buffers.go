package protocol

// InputBuffer provides an abstraction for reading incoming protocol data
type InputBuffer interface {
	// Data returns the available data slice
	Data() []byte

	// Available returns the number of bytes available
	Available() int

	// Pop removes n bytes from the front of the buffer
	Pop(n int)
}

// OutputBuffer provides an abstraction for writing outgoing protocol data
type OutputBuffer interface {
	// Output writes data to the buffer
	Output(data []byte)

	// CurPosition returns the current write position
	CurPosition() int

	// Update modifies a byte at a specific position
	Update(pos int, val byte)

	// DataSince returns data from a specific position to current
	DataSince(pos int) []byte
}

// SliceInputBuffer implements InputBuffer using a byte slice
type SliceInputBuffer struct {
	data []byte
}

// NewSliceInputBuffer creates a new SliceInputBuffer
func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte {
	return s.data
}

func (s *SliceInputBuffer) Available() int {
	return len(s.data)
}

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput implements OutputBuffer using a fixed-size scratch buffer
type ScratchOutput struct {
	buf [MessageMax]byte
	pos int
}

// NewScratchOutput creates a new ScratchOutput
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{pos: 0}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
}

func (s *ScratchOutput) CurPosition() int {
	return s.pos
}

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos < len(s.buf) {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns the accumulated output data
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Reset clears the buffer
func (s *ScratchOutput) Reset() {
	s.pos = 0
}

// FifoBuffer queues received bytes until a whole frame is present. It is a
// linear buffer that slides its contents back to the start when it runs out of
// room at the end, so Data never copies.
type FifoBuffer struct {
	buf   []byte
	start int
	end   int
}

// NewFifoBuffer creates a FifoBuffer holding up to capacity bytes
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count
func (f *FifoBuffer) Write(data []byte) int {
	if len(data) > len(f.buf)-f.end && f.start > 0 {
		f.compact()
	}
	n := copy(f.buf[f.end:], data)
	f.end += n
	return n
}

func (f *FifoBuffer) compact() {
	f.end = copy(f.buf, f.buf[f.start:f.end])
	f.start = 0
}

// Read moves up to len(data) bytes out of the buffer
func (f *FifoBuffer) Read(data []byte) int {
	n := copy(data, f.buf[f.start:f.end])
	f.Pop(n)
	return n
}

// Available returns the number of queued bytes
func (f *FifoBuffer) Available() int {
	return f.end - f.start
}

// Free returns how many more bytes Write will accept
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.Available()
}

// Data returns the queued bytes. The slice is only valid until the next
// Write or Reset.
func (f *FifoBuffer) Data() []byte {
	return f.buf[f.start:f.end]
}

// Pop drops n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	if n >= f.Available() {
		f.Reset()
		return
	}
	f.start += n
}

// IsEmpty reports whether nothing is queued
func (f *FifoBuffer) IsEmpty() bool {
	return f.start == f.end
}

// Reset drops everything
func (f *FifoBuffer) Reset() {
	f.start = 0
	f.end = 0
}
