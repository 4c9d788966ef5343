package router

import (
	"testing"

	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	testlog.Start(t)
	return New(zerolog.Nop())
}

func TestOneShotFIFOWithRetained(t *testing.T) {
	r := newTestRouter(t)
	var calls []string
	h1Seen := 0
	r.AddOneShot(protocol.EndpointAppManager, OneShotFunc(func(p []byte) Disposition {
		h1Seen++
		calls = append(calls, "h1:"+string(p))
		if h1Seen < 2 {
			return Retained
		}
		return Consumed
	}))
	r.AddOneShot(protocol.EndpointAppManager, OneShotFunc(func(p []byte) Disposition {
		calls = append(calls, "h2:"+string(p))
		return Consumed
	}))

	r.Dispatch(protocol.EndpointAppManager, []byte("a"))
	if len(calls) != 1 || calls[0] != "h1:a" {
		t.Fatalf("first frame should go to h1 only, calls=%v", calls)
	}
	if r.Pending(protocol.EndpointAppManager) != 2 {
		t.Fatalf("retained handler should stay queued")
	}
	if got := r.Dispatch(protocol.EndpointAppManager, []byte("b")); got != OneShotConsumed {
		t.Fatalf("expected oneshot outcome, got %s", got)
	}
	if len(calls) != 2 || calls[1] != "h1:b" {
		t.Fatalf("second frame should be offered to h1 again, calls=%v", calls)
	}
	r.Dispatch(protocol.EndpointAppManager, []byte("c"))
	if len(calls) != 3 || calls[2] != "h2:c" {
		t.Fatalf("h2 should fire only after h1 consumed, calls=%v", calls)
	}
	if r.Pending(protocol.EndpointAppManager) != 0 {
		t.Fatalf("queue should be empty")
	}
}

func TestRetainedFallsThroughToPersistent(t *testing.T) {
	r := newTestRouter(t)
	persistent := 0
	r.SetHandler(protocol.EndpointAppMessage, func([]byte) bool { persistent++; return true })
	r.AddOneShot(protocol.EndpointAppMessage, OneShotFunc(func([]byte) Disposition { return Retained }))

	if got := r.Dispatch(protocol.EndpointAppMessage, []byte{1}); got != Persistent {
		t.Fatalf("expected persistent outcome, got %s", got)
	}
	if persistent != 1 {
		t.Fatalf("persistent handler should see unconsumed frame")
	}
}

func TestConsumedDoesNotReachPersistent(t *testing.T) {
	r := newTestRouter(t)
	persistent := 0
	r.SetHandler(protocol.EndpointPing, func([]byte) bool { persistent++; return true })
	r.AddOneShot(protocol.EndpointPing, OneShotFunc(func([]byte) Disposition { return Consumed }))

	r.Dispatch(protocol.EndpointPing, []byte{1})
	r.Dispatch(protocol.EndpointPing, []byte{2})
	if persistent != 1 {
		t.Fatalf("expected persistent to see only the second frame, got %d", persistent)
	}
}

func TestPersistentReplacement(t *testing.T) {
	r := newTestRouter(t)
	var first, second int
	r.SetHandler(protocol.EndpointMusicControl, func([]byte) bool { first++; return true })
	r.Dispatch(protocol.EndpointMusicControl, []byte{1})
	r.SetHandler(protocol.EndpointMusicControl, func([]byte) bool { second++; return true })
	r.Dispatch(protocol.EndpointMusicControl, []byte{1})
	r.Dispatch(protocol.EndpointMusicControl, []byte{1})
	if first != 1 || second != 2 {
		t.Fatalf("latest handler should win, first=%d second=%d", first, second)
	}

	r.ClearHandler(protocol.EndpointMusicControl)
	if got := r.Dispatch(protocol.EndpointMusicControl, []byte{1}); got != Dropped {
		t.Fatalf("expected dropped after clear, got %s", got)
	}
}

func TestUnknownEndpointDropped(t *testing.T) {
	r := newTestRouter(t)
	if got := r.Dispatch(protocol.Endpoint(4242), []byte{9}); got != Dropped {
		t.Fatalf("expected dropped, got %s", got)
	}
}

func TestCancelOneShot(t *testing.T) {
	r := newTestRouter(t)
	fired := false
	t1 := r.AddOneShot(protocol.EndpointVersion, OneShotFunc(func([]byte) Disposition { fired = true; return Consumed }))
	t2 := r.AddOneShot(protocol.EndpointVersion, OneShotFunc(func([]byte) Disposition { return Consumed }))
	if !r.CancelOneShot(protocol.EndpointVersion, t1) {
		t.Fatalf("cancel should find ticket")
	}
	if r.CancelOneShot(protocol.EndpointVersion, t1) {
		t.Fatalf("second cancel should miss")
	}
	r.Dispatch(protocol.EndpointVersion, nil)
	if fired {
		t.Fatalf("cancelled handler fired")
	}
	if r.CancelOneShot(protocol.EndpointVersion, t2) {
		t.Fatalf("t2 should already be consumed")
	}
}

func TestHandlerMayQueueFollowUp(t *testing.T) {
	r := newTestRouter(t)
	var order []int
	r.AddOneShot(protocol.EndpointPutBytes, OneShotFunc(func([]byte) Disposition {
		order = append(order, 1)
		r.AddOneShot(protocol.EndpointPutBytes, OneShotFunc(func([]byte) Disposition {
			order = append(order, 2)
			return Consumed
		}))
		return Consumed
	}))
	r.Dispatch(protocol.EndpointPutBytes, nil)
	r.Dispatch(protocol.EndpointPutBytes, nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
	if got := r.Endpoints(); len(got) != 0 {
		t.Fatalf("no persistent handlers expected, got %v", got)
	}
}
