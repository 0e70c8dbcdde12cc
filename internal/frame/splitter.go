// Package frame recovers individual encoded envelopes from a byte stream
// that carries no message boundaries.
//
// Frames are top-level JSON objects. The splitter scans byte by byte with a
// brace depth counter, an in-string flag and an escape-pending flag, so
// braces and quotes inside string literals never end a frame early. A
// closing brace that returns the depth to zero closes one frame.
package frame

import (
	"errors"
	"fmt"
)

// DefaultMaxFrameSize bounds how many bytes a single unterminated frame may
// buffer before it is discarded.
const DefaultMaxFrameSize = 4 << 20

// ErrUnterminated is the root cause of every FramingError.
var ErrUnterminated = errors.New("unterminated frame")

// FramingError reports frame bytes that could not be completed, either
// because the stream ended or because the frame outgrew the size limit.
type FramingError struct {
	Partial []byte
	Depth   int
	Reason  string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("%s: %s (%d bytes buffered, depth %d)", ErrUnterminated, e.Reason, len(e.Partial), e.Depth)
}

func (e *FramingError) Unwrap() error { return ErrUnterminated }

// Result is what one Feed call recovered.
type Result struct {
	// Frames are complete top-level objects, in stream order.
	Frames [][]byte
	// Stray are non-whitespace runs found between frames.
	Stray [][]byte
	// Overflow is set when a partial frame exceeded the size limit and was
	// discarded.
	Overflow *FramingError
}

// Splitter is an incremental frame scanner. It is not safe for concurrent
// use; the dispatcher owns one per connection.
type Splitter struct {
	buf      []byte
	pos      int // next byte of buf to scan
	start    int // start of the current frame, or -1 outside a frame
	depth    int
	inString bool
	escaped  bool
	maxSize  int
}

// NewSplitter returns a splitter with the default frame size limit.
func NewSplitter() *Splitter {
	return NewSplitterWithLimit(DefaultMaxFrameSize)
}

// NewSplitterWithLimit returns a splitter that discards partial frames
// larger than maxSize bytes. A non-positive maxSize disables the limit.
func NewSplitterWithLimit(maxSize int) *Splitter {
	return &Splitter{start: -1, maxSize: maxSize}
}

// Feed appends chunk to the internal buffer and returns every frame it
// completes. Content of a frame still open at the end of chunk stays
// buffered for the next call.
func (s *Splitter) Feed(chunk []byte) Result {
	s.buf = append(s.buf, chunk...)

	var res Result
	strayStart := -1

	flushStray := func(end int) {
		if strayStart >= 0 {
			res.Stray = append(res.Stray, clone(s.buf[strayStart:end]))
			strayStart = -1
		}
	}

	for ; s.pos < len(s.buf); s.pos++ {
		c := s.buf[s.pos]

		if s.depth == 0 {
			switch {
			case c == '{':
				flushStray(s.pos)
				s.start = s.pos
				s.depth = 1
			case isSpace(c):
				flushStray(s.pos)
			default:
				if strayStart < 0 {
					strayStart = s.pos
				}
			}
			continue
		}

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inString = false
			}
			continue
		}

		switch c {
		case '"':
			s.inString = true
		case '{':
			s.depth++
		case '}':
			s.depth--
			if s.depth == 0 {
				res.Frames = append(res.Frames, clone(s.buf[s.start:s.pos+1]))
				s.start = -1
			}
		}
	}
	flushStray(len(s.buf))

	s.compact()

	if s.maxSize > 0 && s.start >= 0 && len(s.buf)-s.start > s.maxSize {
		res.Overflow = &FramingError{
			Partial: clone(s.buf[s.start:]),
			Depth:   s.depth,
			Reason:  fmt.Sprintf("frame exceeds %d bytes", s.maxSize),
		}
		s.Reset()
	}

	return res
}

// Pending returns the number of buffered bytes belonging to an unfinished
// frame.
func (s *Splitter) Pending() int {
	if s.start < 0 {
		return 0
	}
	return len(s.buf) - s.start
}

// Flush ends the stream. It returns a *FramingError holding any unfinished
// frame and resets the splitter.
func (s *Splitter) Flush() error {
	defer s.Reset()
	if s.start < 0 {
		return nil
	}
	return &FramingError{
		Partial: clone(s.buf[s.start:]),
		Depth:   s.depth,
		Reason:  "stream ended",
	}
}

// Reset drops all buffered state.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
	s.pos = 0
	s.start = -1
	s.depth = 0
	s.inString = false
	s.escaped = false
}

// compact discards bytes that can no longer belong to a frame.
func (s *Splitter) compact() {
	keepFrom := s.pos
	if s.start >= 0 {
		keepFrom = s.start
	}
	if keepFrom == 0 {
		return
	}
	n := copy(s.buf, s.buf[keepFrom:])
	s.buf = s.buf[:n]
	s.pos -= keepFrom
	if s.start >= 0 {
		s.start -= keepFrom
	}
}

// Split is the stateless form of Feed: it returns the complete frames in
// data and the unconsumed tail that starts an unfinished frame. Stray bytes
// between frames are dropped.
func Split(data []byte) (frames [][]byte, rest []byte) {
	s := NewSplitterWithLimit(0)
	res := s.Feed(data)
	if s.start >= 0 {
		rest = clone(s.buf[s.start:])
	}
	return res.Frames, rest
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
