package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EOSError is raised when a read runs past the end of the input.
type EOSError struct {
	Offset int
	Want   int
}

func (e *EOSError) Error() string {
	return fmt.Sprintf("unexpected end of stream at offset %d (wanted %d bytes)", e.Offset, e.Want)
}

// Stream reads big-endian fixed-width values from a byte slice. Running off
// the end panics with *EOSError; Parse turns that into a MalformedClassError.
type Stream struct {
	data []byte
	pos  int
}

// NewStream returns a Stream positioned at the start of data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data}
}

// Offset returns the number of bytes consumed so far.
func (s *Stream) Offset() int { return s.pos }

func (s *Stream) take(n int) []byte {
	if n < 0 || s.pos+n > len(s.data) {
		panic(&EOSError{Offset: s.pos, Want: n})
	}
	b := s.data[s.pos : s.pos+n]
	s.pos += n
	return b
}

func (s *Stream) Read1() uint8 { return s.take(1)[0] }

func (s *Stream) Read2() uint16 { return binary.BigEndian.Uint16(s.take(2)) }

func (s *Stream) Read4() uint32 { return binary.BigEndian.Uint32(s.take(4)) }

func (s *Stream) Read8() uint64 { return binary.BigEndian.Uint64(s.take(8)) }

func (s *Stream) ReadFloat() float32 { return math.Float32frombits(s.Read4()) }

func (s *Stream) ReadDouble() float64 { return math.Float64frombits(s.Read8()) }

// Read returns a copy of the next n bytes.
func (s *Stream) Read(n int) []byte {
	b := make([]byte, n)
	copy(b, s.take(n))
	return b
}

func (s *Stream) Skip(n int) { s.take(n) }
