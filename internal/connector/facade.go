package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/watchlink/internal/observability"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/frame"
	"github.com/danmuck/watchlink/internal/router"
)

// Status is a point-in-time view of the connection.
type Status struct {
	State     string   `json:"state"`
	Connected bool     `json:"connected"`
	Name      string   `json:"name,omitempty"`
	Identity  Identity `json:"identity"`
	Retained  bool     `json:"retained"`
	Serial    string   `json:"serial,omitempty"`
	BTAddress string   `json:"bt_address,omitempty"`
	Firmware  string   `json:"firmware,omitempty"`
}

// SendMessage queues payload for ep behind earlier sends. reply, when
// non-nil, is queued on ep before the frame is written. It fails without
// side effects unless the link is up.
func (c *Connector) SendMessage(ep protocol.Endpoint, payload []byte, reply router.OneShot) error {
	return c.send(ep, payload, reply, nil)
}

// send is SendMessage with a callback that runs on the loop once reply is
// queued, or with an error if the link dropped before the frame was queued.
func (c *Connector) send(ep protocol.Endpoint, payload []byte, reply router.OneShot, queued func(router.Ticket, error)) error {
	wire, err := frame.Encode(uint16(ep), payload)
	if err != nil {
		observability.RecordRejectedFrame("out", "too_large")
		return err
	}
	return c.admit(func() {
		if c.state != Connected || c.link == nil {
			c.log.Debug().Msgf("connector.SendMessage dropped endpoint=%s state=%s", ep, c.state)
			if queued != nil {
				queued(0, ErrNotConnected)
			}
			return
		}
		var t router.Ticket
		if reply != nil {
			t = c.router.AddOneShot(ep, reply)
		}
		if queued != nil {
			queued(t, nil)
		}
		c.enqueue(ep, wire)
	})
}

// Request sends payload on ep and waits for the first reply on ep that
// match accepts; a nil match accepts any. Replies match rejects stay with
// the persistent handler. The waiting handler is removed when ctx ends.
func (c *Connector) Request(ctx context.Context, ep protocol.Endpoint, payload []byte, match func([]byte) bool) (_ []byte, err error) {
	ctx, span := observability.StartLinkSpan(ctx, "connector.Request", ep.String())
	defer func() { observability.EndSpan(span, err) }()
	start := time.Now()
	replies := make(chan []byte, 1)
	queued := make(chan queuedTicket, 1)
	h := router.OneShotFunc(func(p []byte) router.Disposition {
		if match != nil && !match(p) {
			return router.Retained
		}
		replies <- append([]byte(nil), p...)
		return router.Consumed
	})
	err = c.send(ep, payload, h, func(t router.Ticket, err error) {
		queued <- queuedTicket{ticket: t, err: err}
	})
	if err != nil {
		return nil, err
	}

	pending := queued
	var ticket router.Ticket
	for {
		select {
		case reply := <-replies:
			observability.RecordRequest(ep.String(), "ok", time.Since(start))
			return reply, nil
		case q := <-pending:
			if q.err != nil {
				observability.RecordRequest(ep.String(), "not_sent", time.Since(start))
				return nil, fmt.Errorf("connector: request %s: %w", ep, q.err)
			}
			ticket, pending = q.ticket, nil
		case <-ctx.Done():
			if pending == nil {
				c.post(func() { c.router.CancelOneShot(ep, ticket) })
			} else {
				// The send closure runs before this one.
				c.post(func() {
					select {
					case q := <-queued:
						if q.err == nil {
							c.router.CancelOneShot(ep, q.ticket)
						}
					default:
					}
				})
			}
			observability.RecordRequest(ep.String(), "timeout", time.Since(start))
			return nil, fmt.Errorf("connector: request %s: %w", ep, ctx.Err())
		}
	}
}

type queuedTicket struct {
	ticket router.Ticket
	err    error
}

// SetHandler installs the persistent handler for ep, replacing any
// earlier one. h runs on the connector loop and must not block.
func (c *Connector) SetHandler(ep protocol.Endpoint, h router.Handler) error {
	if !c.post(func() { c.router.SetHandler(ep, h) }) {
		return ErrClosed
	}
	return nil
}

func (c *Connector) ClearHandler(ep protocol.Endpoint) error {
	if !c.post(func() { c.router.ClearHandler(ep) }) {
		return ErrClosed
	}
	return nil
}

// HandlerEndpoints lists endpoints with a persistent handler.
func (c *Connector) HandlerEndpoints(ctx context.Context) ([]protocol.Endpoint, error) {
	var out []protocol.Endpoint
	err := c.call(ctx, func() { out = c.router.Endpoints() })
	return out, err
}

// PendingOneShots reports how many reply handlers wait on ep.
func (c *Connector) PendingOneShots(ctx context.Context, ep protocol.Endpoint) (int, error) {
	var n int
	err := c.call(ctx, func() { n = c.router.Pending(ep) })
	return n, err
}

func (c *Connector) Subscribe() (<-chan Event, func()) {
	return c.events.Subscribe()
}

func (c *Connector) State() State {
	return c.snapshot().state
}

func (c *Connector) IsConnected() bool {
	return c.State() == Connected
}

func (c *Connector) PeerName() string {
	return c.snapshot().peerName
}

// SerialNumber is read from the version reply after connecting. It is
// empty until the device answers.
func (c *Connector) SerialNumber() string {
	return c.snapshot().serial
}

// Identity returns the retained identity and whether one is set.
func (c *Connector) Identity() (Identity, bool) {
	s := c.snapshot()
	return s.identity, s.hasIdentity
}

func (c *Connector) Status() Status {
	s := c.snapshot()
	return Status{
		State:     s.state.String(),
		Connected: s.state == Connected,
		Name:      s.peerName,
		Identity:  s.identity,
		Retained:  s.hasIdentity,
		Serial:    s.serial,
		BTAddress: s.btAddress,
		Firmware:  s.firmware,
	}
}
