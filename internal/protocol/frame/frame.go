package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	HeaderLen     = 4
	MaxPayloadLen = math.MaxUint16
)

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the fixed wire header: payload length then endpoint, both
// big-endian u16.
type Header struct {
	Length   uint16
	Endpoint uint16
}

// Frame is one complete wire message.
type Frame struct {
	Endpoint uint16
	Payload  []byte
}

// Limits constrains decode memory use. MaxPayloadBytes above MaxPayloadLen
// is clamped since the length field cannot describe it anyway.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: MaxPayloadLen}
}

func (l Limits) max() int {
	if l.MaxPayloadBytes <= 0 || l.MaxPayloadBytes > MaxPayloadLen {
		return MaxPayloadLen
	}
	return l.MaxPayloadBytes
}

// Encode wraps payload in a frame for endpoint.
func Encode(endpoint uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes for endpoint %d", ErrPayloadTooLarge, len(payload), endpoint)
	}
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = append(buf, EncodeHeader(Header{Length: uint16(len(payload)), Endpoint: endpoint})...)
	return append(buf, payload...), nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], h.Length)
	binary.BigEndian.PutUint16(buf[2:4], h.Endpoint)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("frame: short header: %d", len(b))
	}
	return Header{
		Length:   binary.BigEndian.Uint16(b[0:2]),
		Endpoint: binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// Decode parses one frame from the front of buf. It returns zero consumed
// and a nil error when buf does not yet hold a complete frame. The returned
// payload is a copy.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderLen {
		return Frame{}, 0, nil
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return Frame{}, 0, err
	}
	total := HeaderLen + int(h.Length)
	if len(buf) < total {
		return Frame{}, 0, nil
	}
	payload := make([]byte, h.Length)
	copy(payload, buf[HeaderLen:total])
	return Frame{Endpoint: h.Endpoint, Payload: payload}, total, nil
}
