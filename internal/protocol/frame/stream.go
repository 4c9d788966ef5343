package frame

import "fmt"

// Stream reassembles frames from transport reads. It is not safe for
// concurrent use; the connector loop owns it.
type Stream struct {
	limits  Limits
	buf     []byte
	discard int
}

func NewStream(limits Limits) *Stream {
	return &Stream{limits: limits}
}

// Write appends bytes read from the transport.
func (s *Stream) Write(p []byte) {
	s.buf = append(s.buf, p...)
}

// Buffered reports bytes held but not yet returned as frames.
func (s *Stream) Buffered() int {
	return len(s.buf)
}

// Reset drops buffered bytes and any pending skip.
func (s *Stream) Reset() {
	s.buf = nil
	s.discard = 0
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. A frame whose declared length exceeds the limits is reported with
// ErrPayloadTooLarge and its bytes are skipped as they arrive, so the stream
// stays aligned on frame boundaries.
func (s *Stream) Next() (Frame, bool, error) {
	if s.discard > 0 {
		n := min(s.discard, len(s.buf))
		s.consume(n)
		s.discard -= n
		if s.discard > 0 {
			return Frame{}, false, nil
		}
	}
	if len(s.buf) < HeaderLen {
		return Frame{}, false, nil
	}
	h, err := DecodeHeader(s.buf)
	if err != nil {
		return Frame{}, false, err
	}
	if int(h.Length) > s.limits.max() {
		s.consume(HeaderLen)
		s.discard = int(h.Length)
		return Frame{}, false, fmt.Errorf("%w: declared %d bytes for endpoint %d", ErrPayloadTooLarge, h.Length, h.Endpoint)
	}
	f, n, err := Decode(s.buf)
	if err != nil || n == 0 {
		return Frame{}, false, err
	}
	s.consume(n)
	return f, true, nil
}

func (s *Stream) consume(n int) {
	if n >= len(s.buf) {
		s.buf = s.buf[:0]
		return
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
}
