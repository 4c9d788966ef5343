package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/watchlink/internal/protocol/typed"
	"github.com/danmuck/watchlink/internal/testutil/testlog"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload, err := typed.Dict{typed.Uint8(0, 0), typed.Uint32(1, 7)}.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	wire, err := Encode(2001, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(wire[:HeaderLen], []byte{0x00, 0x05, 0x07, 0xD1}) {
		t.Fatalf("unexpected header % x", wire[:HeaderLen])
	}
	f, n, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d of %d", n, len(wire))
	}
	if f.Endpoint != 2001 || !bytes.Equal(f.Payload, []byte{0, 0, 0, 0, 7}) {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestRoundTripBoundarySizes(t *testing.T) {
	testlog.Start(t)
	for _, size := range []int{0, 1, 255, 256, MaxPayloadLen} {
		payload := bytes.Repeat([]byte{0x5A}, size)
		wire, err := Encode(3000, payload)
		if err != nil {
			t.Fatalf("encode size=%d: %v", size, err)
		}
		f, n, err := Decode(wire)
		if err != nil || n != len(wire) {
			t.Fatalf("decode size=%d n=%d err=%v", size, n, err)
		}
		if f.Endpoint != 3000 || !bytes.Equal(f.Payload, payload) {
			t.Fatalf("round trip mismatch size=%d", size)
		}
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	testlog.Start(t)
	_, err := Encode(48879, make([]byte, MaxPayloadLen+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodePartialConsumesNothing(t *testing.T) {
	testlog.Start(t)
	wire, _ := Encode(33, []byte("call"))
	for cut := 0; cut < len(wire); cut++ {
		_, n, err := Decode(wire[:cut])
		if err != nil || n != 0 {
			t.Fatalf("cut=%d n=%d err=%v", cut, n, err)
		}
	}
}

func TestStreamReassemblyMatchesSingleShot(t *testing.T) {
	testlog.Start(t)
	a, _ := Encode(11, []byte{0x02, 0, 0, 0, 1})
	b, _ := Encode(3000, []byte("notification body"))
	all := append(append([]byte(nil), a...), b...)

	s := NewStream(DefaultLimits())
	var got []Frame
	for i := 0; i < len(all); i++ {
		s.Write(all[i : i+1])
		for {
			f, ok, err := s.Next()
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if !ok {
				break
			}
			got = append(got, f)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	want, _, _ := Decode(b)
	if got[1].Endpoint != want.Endpoint || !bytes.Equal(got[1].Payload, want.Payload) {
		t.Fatalf("reassembled frame differs: %+v vs %+v", got[1], want)
	}
	if s.Buffered() != 0 {
		t.Fatalf("stream kept %d bytes", s.Buffered())
	}
}

func TestStreamSkipsOversizeFrame(t *testing.T) {
	testlog.Start(t)
	s := NewStream(Limits{MaxPayloadBytes: 8})
	big, _ := Encode(8000, bytes.Repeat([]byte{1}, 32))
	small, _ := Encode(2001, []byte{0, 0, 0, 0, 9})

	s.Write(big[:10])
	if _, ok, err := s.Next(); ok || !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected oversize rejection, ok=%v err=%v", ok, err)
	}
	s.Write(big[10:])
	s.Write(small)
	f, ok, err := s.Next()
	if err != nil || !ok {
		t.Fatalf("expected frame after skip, ok=%v err=%v", ok, err)
	}
	if f.Endpoint != 2001 || !bytes.Equal(f.Payload, []byte{0, 0, 0, 0, 9}) {
		t.Fatalf("unexpected frame after skip: %+v", f)
	}
}
