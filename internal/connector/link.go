package connector

import (
	"errors"

	"github.com/danmuck/watchlink/internal/discovery"
	"github.com/danmuck/watchlink/internal/observability"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/frame"
	"github.com/danmuck/watchlink/internal/protocol/typed"
	"github.com/danmuck/watchlink/internal/router"
	"github.com/danmuck/watchlink/internal/transport"
)

func (c *Connector) linkUp(gen uint64, dev discovery.Device, conn transport.Conn) {
	l := &link{conn: conn, writes: make(chan outbound, 1), device: dev}
	c.link = l
	c.stream.Reset()
	c.writeQ = nil
	c.writing = false
	c.attempts = 0

	go c.readLoop(gen, conn)
	go c.writeLoop(gen, l)

	observability.RecordConnectAttempt(true)
	c.log.Info().Msgf("connector.link up device=%s", dev)
	c.setState(Connected)
	c.onConnected()
}

func (c *Connector) onConnected() {
	if c.cfg.RequestVersionOnConnect {
		c.enqueueDict(protocol.EndpointVersion, protocol.VersionRequestDict())
	}
	if c.cfg.SyncTimeOnConnect {
		c.enqueueDict(protocol.EndpointTime, protocol.TimeDict(c.now()))
	}
}

func (c *Connector) readLoop(gen uint64, conn transport.Conn) {
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			c.post(func() { c.received(gen, data) })
		}
		if err != nil {
			c.post(func() { c.transportFailed(gen, "read", err) })
			return
		}
	}
}

func (c *Connector) writeLoop(gen uint64, l *link) {
	for o := range l.writes {
		_, err := l.conn.Write(o.wire)
		c.post(func() { c.writeDone(gen, o, err) })
	}
}

func (c *Connector) writeDone(gen uint64, o outbound, err error) {
	if gen != c.gen {
		return
	}
	c.writing = false
	if err != nil {
		c.transportFailed(gen, "write", err)
		return
	}
	observability.RecordFrame("out", o.ep.String(), len(o.wire)-frame.HeaderLen)
	c.pump()
}

// pump hands the next queued frame to the writer once the previous write
// has completed.
func (c *Connector) pump() {
	if c.writing || c.link == nil || len(c.writeQ) == 0 {
		return
	}
	o := c.writeQ[0]
	c.writeQ[0] = outbound{}
	c.writeQ = c.writeQ[1:]
	c.writing = true
	c.link.writes <- o
}

func (c *Connector) enqueue(ep protocol.Endpoint, wire []byte) {
	c.writeQ = append(c.writeQ, outbound{ep: ep, wire: wire})
	c.pump()
}

// enqueueDict is the loop-side send used by built-in handlers.
func (c *Connector) enqueueDict(ep protocol.Endpoint, d typed.Dict) {
	payload, err := d.Build()
	if err != nil {
		c.log.Error().Err(err).Msgf("connector.enqueue build endpoint=%s", ep)
		return
	}
	c.enqueuePayload(ep, payload)
}

func (c *Connector) enqueuePayload(ep protocol.Endpoint, payload []byte) {
	wire, err := frame.Encode(uint16(ep), payload)
	if err != nil {
		c.log.Error().Err(err).Msgf("connector.enqueue encode endpoint=%s", ep)
		return
	}
	c.enqueue(ep, wire)
}

func (c *Connector) transportFailed(gen uint64, op string, err error) {
	if gen != c.gen || c.link == nil {
		return
	}
	c.log.Warn().Err(err).Msgf("connector.link %s failed device=%s", op, c.link.device)
	c.teardown()
	c.setState(Disconnected)
	c.scheduleRetry()
}

func (c *Connector) received(gen uint64, data []byte) {
	if gen != c.gen {
		return
	}
	c.stream.Write(data)
	for c.gen == gen {
		f, ok, err := c.stream.Next()
		if err != nil {
			reason := "malformed"
			if errors.Is(err, frame.ErrPayloadTooLarge) {
				reason = "too_large"
			}
			observability.RecordRejectedFrame("in", reason)
			c.log.Warn().Err(err).Msg("connector.received frame rejected")
			continue
		}
		if !ok {
			return
		}
		c.dispatch(f)
	}
}

func (c *Connector) dispatch(f frame.Frame) {
	ep := protocol.Endpoint(f.Endpoint)
	observability.RecordFrame("in", ep.String(), len(f.Payload))
	if c.router.Dispatch(ep, f.Payload) == router.Dropped {
		observability.RecordDroppedFrame(ep.String())
	}
}
