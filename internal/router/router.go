// Package router maps inbound endpoint payloads to handlers.
//
// Each endpoint has at most one persistent Handler and a FIFO queue of
// OneShot handlers used to correlate a request with its reply. A Router is
// confined to the goroutine that owns the connection; it does no locking.
package router

import (
	"sort"

	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/rs/zerolog"
)

// Handler is a persistent endpoint handler. The return value reports
// whether the payload was understood; it is used for logging only.
type Handler func(payload []byte) bool

// Disposition is a one-shot handler's verdict on a payload.
type Disposition int

const (
	// Retained keeps the handler at the front of its queue.
	Retained Disposition = iota
	// Consumed removes the handler from its queue.
	Consumed
)

// OneShot correlates a reply. It stays queued until it reports Consumed.
type OneShot interface {
	Handle(payload []byte) Disposition
}

// OneShotFunc adapts a function to OneShot.
type OneShotFunc func(payload []byte) Disposition

func (f OneShotFunc) Handle(payload []byte) Disposition { return f(payload) }

// Ticket identifies a queued one-shot handler for cancellation.
type Ticket uint64

// Outcome reports which handler, if any, took a dispatched payload.
type Outcome int

const (
	Dropped Outcome = iota
	OneShotConsumed
	Persistent
)

func (o Outcome) String() string {
	switch o {
	case OneShotConsumed:
		return "oneshot"
	case Persistent:
		return "persistent"
	default:
		return "dropped"
	}
}

type queued struct {
	ticket  Ticket
	handler OneShot
}

// Router holds per-endpoint handler slots.
type Router struct {
	handlers   map[protocol.Endpoint]Handler
	oneShots   map[protocol.Endpoint][]queued
	nextTicket Ticket
	log        zerolog.Logger
}

func New(log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[protocol.Endpoint]Handler),
		oneShots: make(map[protocol.Endpoint][]queued),
		log:      log,
	}
}

// SetHandler installs h as the persistent handler for ep, replacing any
// earlier one. A nil h clears the slot.
func (r *Router) SetHandler(ep protocol.Endpoint, h Handler) {
	if h == nil {
		delete(r.handlers, ep)
		return
	}
	r.handlers[ep] = h
}

func (r *Router) ClearHandler(ep protocol.Endpoint) {
	delete(r.handlers, ep)
}

// AddOneShot appends h to ep's queue.
func (r *Router) AddOneShot(ep protocol.Endpoint, h OneShot) Ticket {
	r.nextTicket++
	r.oneShots[ep] = append(r.oneShots[ep], queued{ticket: r.nextTicket, handler: h})
	return r.nextTicket
}

// CancelOneShot removes a queued handler. Handlers never expire on their
// own; callers that need a deadline cancel through here.
func (r *Router) CancelOneShot(ep protocol.Endpoint, t Ticket) bool {
	q := r.oneShots[ep]
	for i, item := range q {
		if item.ticket != t {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(r.oneShots, ep)
		} else {
			r.oneShots[ep] = q
		}
		return true
	}
	return false
}

// Pending returns the number of queued one-shot handlers for ep.
func (r *Router) Pending(ep protocol.Endpoint) int {
	return len(r.oneShots[ep])
}

// Endpoints lists endpoints with a persistent handler, ascending.
func (r *Router) Endpoints() []protocol.Endpoint {
	out := make([]protocol.Endpoint, 0, len(r.handlers))
	for ep := range r.handlers {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch offers payload to the front one-shot handler of ep, then to the
// persistent handler if the one-shot did not consume it. Later one-shots
// are never offered a payload ahead of the front one.
func (r *Router) Dispatch(ep protocol.Endpoint, payload []byte) Outcome {
	if q := r.oneShots[ep]; len(q) > 0 {
		front := q[0]
		if front.handler.Handle(payload) == Consumed {
			r.popFront(ep, front.ticket)
			return OneShotConsumed
		}
	}
	if h, ok := r.handlers[ep]; ok {
		if !h(payload) {
			r.log.Debug().Msgf("router.Dispatch handler rejected endpoint=%s len=%d", ep, len(payload))
		}
		return Persistent
	}
	r.log.Debug().Msgf("router.Dispatch no handler endpoint=%s len=%d", ep, len(payload))
	return Dropped
}

// The handler may have added or cancelled entries while running, so the
// front is removed by ticket rather than by position.
func (r *Router) popFront(ep protocol.Endpoint, t Ticket) {
	r.CancelOneShot(ep, t)
}
