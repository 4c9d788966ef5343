package connector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/watchlink/internal/discovery"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/frame"
	"github.com/danmuck/watchlink/internal/protocol/typed"
	"github.com/danmuck/watchlink/internal/router"
	"github.com/danmuck/watchlink/internal/testutil/testlog"
	"github.com/danmuck/watchlink/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	testName    = "Pebble 42F5"
	testAddress = "00:17:E9:1E:42:F5"
	waitFor     = 2 * time.Second
)

// pipeDialer hands the host side of a net.Pipe to the connector and the
// device side to the test.
type pipeDialer struct {
	mu    sync.Mutex
	dials []discovery.Device
	fails int
	peers chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(chan net.Conn, 8)}
}

func (p *pipeDialer) Dial(ctx context.Context, d discovery.Device) (transport.Conn, error) {
	p.mu.Lock()
	p.dials = append(p.dials, d)
	fail := p.fails > 0
	if fail {
		p.fails--
	}
	p.mu.Unlock()
	if fail {
		return nil, errors.New("page timeout")
	}
	host, dev := net.Pipe()
	p.peers <- dev
	return host, nil
}

func (p *pipeDialer) dialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dials)
}

func (p *pipeDialer) dialed(i int) discovery.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials[i]
}

func (p *pipeDialer) nextPeer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-p.peers:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(waitFor):
		t.Fatalf("no dial within %s", waitFor)
		return nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{InitialDelay: 20 * time.Millisecond, Multiplier: 1, MaxDelay: 20 * time.Millisecond}
	cfg.RequestVersionOnConnect = false
	cfg.SyncTimeOnConnect = false
	cfg.DiscoveryTimeout = time.Second
	return cfg
}

func startConnector(t *testing.T, cfg Config, d transport.Dialer, opts ...Option) *Connector {
	t.Helper()
	testlog.Start(t)
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	c := New(cfg, d, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, c *Connector, want State) {
	t.Helper()
	eventually(t, "state "+want.String(), func() bool { return c.State() == want })
}

func connectPeer(t *testing.T, c *Connector, d *pipeDialer) net.Conn {
	t.Helper()
	if err := c.Connect(testName, testAddress); err != nil {
		t.Fatalf("connect: %v", err)
	}
	peer := d.nextPeer(t)
	waitState(t, c, Connected)
	return peer
}

func readFrame(conn net.Conn) (frame.Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(waitFor))
	hdr := make([]byte, frame.HeaderLen)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return frame.Frame{}, err
	}
	h, err := frame.DecodeHeader(hdr)
	if err != nil {
		return frame.Frame{}, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{Endpoint: h.Endpoint, Payload: payload}, nil
}

func mustReadFrame(t *testing.T, conn net.Conn) frame.Frame {
	t.Helper()
	f, err := readFrame(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func writeFrame(conn net.Conn, ep protocol.Endpoint, payload []byte) error {
	wire, err := frame.Encode(uint16(ep), payload)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(waitFor))
	_, err = conn.Write(wire)
	return err
}

func mustWriteFrame(t *testing.T, conn net.Conn, ep protocol.Endpoint, payload []byte) {
	t.Helper()
	if err := writeFrame(conn, ep, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func collectStates(events <-chan Event, until State) []string {
	var out []string
	timeout := time.After(waitFor)
	for {
		select {
		case e := <-events:
			if e.Kind != EventState {
				continue
			}
			out = append(out, e.State)
			if e.State == until.String() {
				return out
			}
		case <-timeout:
			return out
		}
	}
}

func TestConnectStateSequence(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	events, unsub := c.Subscribe()
	defer unsub()

	if c.State() != Disconnected {
		t.Fatalf("initial state got=%s", c.State())
	}
	_ = connectPeer(t, c, d)

	got := collectStates(events, Connected)
	want := []string{"discovering", "connecting", "connected"}
	if !slices.Equal(got, want) {
		t.Fatalf("state sequence got=%v want=%v", got, want)
	}
	if !c.IsConnected() || c.PeerName() != testName {
		t.Fatalf("status after connect: %+v", c.Status())
	}
	dev := d.dialed(0)
	if dev.Address != testAddress || dev.Network != discovery.NetworkRFCOMM || dev.Channel != 1 {
		t.Fatalf("unexpected dialed device %+v", dev)
	}
}

func TestConnectPublishesNameAndConnectivity(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	events, unsub := c.Subscribe()
	defer unsub()

	_ = connectPeer(t, c, d)

	var sawName, sawConnectivity bool
	timeout := time.After(waitFor)
	for !sawName || !sawConnectivity {
		select {
		case e := <-events:
			switch e.Kind {
			case EventName:
				sawName = e.Name == testName
			case EventConnectivity:
				sawConnectivity = e.Connected
			}
		case <-timeout:
			t.Fatalf("missing events name=%v connectivity=%v", sawName, sawConnectivity)
		}
	}
}

func TestDisconnectClearsIdentityAndStopsRetry(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitState(t, c, Disconnected)
	if _, ok := c.Identity(); ok {
		t.Fatalf("identity should be cleared")
	}
	if c.PeerName() != "" {
		t.Fatalf("peer name should be cleared, got=%q", c.PeerName())
	}
	if _, err := peer.Read(make([]byte, 1)); err == nil {
		t.Fatalf("device side should see the link close")
	}

	time.Sleep(100 * time.Millisecond)
	if n := d.dialCount(); n != 1 {
		t.Fatalf("no reconnect expected after disconnect, dials=%d", n)
	}
	if err := c.Reconnect(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("reconnect without identity got=%v", err)
	}
}

// stall parks the loop so calls submitted meanwhile are still queued.
func stall(c *Connector, d time.Duration) {
	c.post(func() { time.Sleep(d) })
}

func TestSendAfterQueuedDisconnectFails(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	stall(c, 50*time.Millisecond)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := c.Ping(7); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after disconnect got=%v", err)
	}
	reply := router.OneShotFunc(func([]byte) router.Disposition { return router.Consumed })
	if err := c.SendMessage(protocol.EndpointAppManager, []byte{1}, reply); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendMessage after disconnect got=%v", err)
	}
	waitState(t, c, Disconnected)
	n, err := c.PendingOneShots(context.Background(), protocol.EndpointAppManager)
	if err != nil || n != 0 {
		t.Fatalf("reply handler should not be queued, n=%d err=%v", n, err)
	}
	_ = peer.SetReadDeadline(time.Now().Add(waitFor))
	buf := make([]byte, frame.HeaderLen)
	if _, err := io.ReadFull(peer, buf); err == nil {
		t.Fatalf("no frame expected after disconnect, got header % x", buf)
	}
}

func TestRequestAfterQueuedDisconnectFailsFast(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	_ = connectPeer(t, c, d)

	stall(c, 50*time.Millisecond)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	start := time.Now()
	_, err := c.Request(context.Background(), protocol.EndpointPing, []byte{0x00, 0, 0, 0, 7}, nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("request after disconnect got=%v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("request should fail without waiting, took %s", elapsed)
	}
}

func TestRequestFailsWhenLinkDropsBeforeSend(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	_ = connectPeer(t, c, d)

	// A read failure is queued ahead of the request but not yet handled.
	release := make(chan struct{})
	c.post(func() { <-release })
	c.post(func() { c.transportFailed(c.gen, "read", io.ErrUnexpectedEOF) })
	done := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), protocol.EndpointPing, []byte{0x00, 0, 0, 0, 8}, nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("request got=%v", err)
		}
	case <-time.After(waitFor):
		t.Fatalf("request blocked after the link dropped")
	}
}

func TestReconnectRightAfterConnect(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)

	stall(c, 50*time.Millisecond)
	if err := c.Connect(testName, testAddress); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Reconnect(); err != nil {
		t.Fatalf("reconnect after connect got=%v", err)
	}
	_ = d.nextPeer(t)
	waitState(t, c, Connected)
}

func TestReconnectRedialsRetainedIdentity(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	if err := c.Reconnect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	_ = peer.SetReadDeadline(time.Now().Add(waitFor))
	if _, err := peer.Read(make([]byte, 1)); err == nil {
		t.Fatalf("device side should see the first link close")
	}
	_ = d.nextPeer(t)
	waitState(t, c, Connected)
	if n := d.dialCount(); n != 2 {
		t.Fatalf("expected a second dial, dials=%d", n)
	}
	if dev := d.dialed(1); dev.Address != testAddress {
		t.Fatalf("reconnect dialed %+v", dev)
	}
	if id, ok := c.Identity(); !ok || id.Address != testAddress || id.Name != testName {
		t.Fatalf("identity not retained: %+v ok=%v", id, ok)
	}
}

// stuckDialer never completes until the attempt is cancelled.
type stuckDialer struct{}

func (stuckDialer) Dial(ctx context.Context, _ discovery.Device) (transport.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDisconnectWhileConnectingPublishesConnectivity(t *testing.T) {
	c := startConnector(t, testConfig(), stuckDialer{})
	events, unsub := c.Subscribe()
	defer unsub()

	if err := c.Connect(testName, testAddress); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, Connecting)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	timeout := time.After(waitFor)
	for {
		select {
		case e := <-events:
			if e.Kind == EventConnectivity {
				if e.Connected {
					t.Fatalf("unexpected connectivity event %+v", e)
				}
				return
			}
		case <-timeout:
			t.Fatalf("no connectivity event after disconnect")
		}
	}
}

func TestSendWhileDisconnectedHasNoSideEffects(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)

	reply := router.OneShotFunc(func([]byte) router.Disposition { return router.Consumed })
	if err := c.SendMessage(protocol.EndpointAppManager, []byte{1}, reply); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got=%v", err)
	}
	if err := c.Ping(1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from sender, got=%v", err)
	}
	n, err := c.PendingOneShots(context.Background(), protocol.EndpointAppManager)
	if err != nil || n != 0 {
		t.Fatalf("reply handler should not be queued, n=%d err=%v", n, err)
	}
}

func TestOversizePayloadRejected(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	_ = connectPeer(t, c, d)

	err := c.SendMessage(protocol.EndpointPutBytes, make([]byte, frame.MaxPayloadLen+1), nil)
	if !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got=%v", err)
	}
}

func TestPingOnTheWire(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	if err := c.Ping(7); err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = peer.SetReadDeadline(time.Now().Add(waitFor))
	raw := make([]byte, 9)
	if _, err := io.ReadFull(peer, raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{0x00, 0x05, 0x07, 0xD1, 0x00, 0x00, 0x00, 0x00, 0x07}
	if !bytes.Equal(raw, want) {
		t.Fatalf("ping wire got=% x want=% x", raw, want)
	}
}

func TestSMSNotificationOnTheWire(t *testing.T) {
	d := newPipeDialer()
	at := time.UnixMilli(1700000000123)
	c := startConnector(t, testConfig(), d, WithClock(func() time.Time { return at }))
	peer := connectPeer(t, c, d)

	if err := c.SendSMSNotification("Alice", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	f := mustReadFrame(t, peer)
	if f.Endpoint != 3000 {
		t.Fatalf("endpoint got=%d", f.Endpoint)
	}
	want := append([]byte{1, 6, 'A', 'l', 'i', 'c', 'e', 0, 6, 'h', 'e', 'l', 'l', 'o', 0, 14}, "1700000000123\x00"...)
	if !bytes.Equal(f.Payload, want) {
		t.Fatalf("payload got=% x want=% x", f.Payload, want)
	}
}

func TestWritesKeepSubmissionOrder(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	for cookie := uint32(1); cookie <= 6; cookie++ {
		if err := c.Ping(cookie); err != nil {
			t.Fatalf("ping %d: %v", cookie, err)
		}
	}
	for cookie := uint32(1); cookie <= 6; cookie++ {
		f := mustReadFrame(t, peer)
		if got := f.Payload[4]; uint32(got) != cookie {
			t.Fatalf("frame %d carried cookie %d", cookie, got)
		}
	}
}

func TestUnexpectedCloseReconnectsOnceWithRetainedIdentity(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)
	events, unsub := c.Subscribe()
	defer unsub()

	reply := router.OneShotFunc(func([]byte) router.Disposition { return router.Consumed })
	if err := c.SendMessage(protocol.EndpointAppManager, []byte{protocol.AppManagerGetBankStatus}, reply); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = mustReadFrame(t, peer)
	_ = peer.Close()

	second := d.nextPeer(t)
	defer second.Close()
	got := collectStates(events, Connected)
	want := []string{"disconnected", "discovering", "connecting", "connected"}
	if !slices.Equal(got, want) {
		t.Fatalf("state sequence got=%v want=%v", got, want)
	}
	if id, ok := c.Identity(); !ok || id.Address != testAddress || id.Name != testName {
		t.Fatalf("identity not retained: %+v ok=%v", id, ok)
	}
	if dev := d.dialed(1); dev.Address != testAddress {
		t.Fatalf("reconnect dialed %+v", dev)
	}
	n, err := c.PendingOneShots(context.Background(), protocol.EndpointAppManager)
	if err != nil || n != 1 {
		t.Fatalf("one-shot should survive the drop, n=%d err=%v", n, err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := d.dialCount(); n != 2 {
		t.Fatalf("expected exactly one reconnect, dials=%d", n)
	}
}

func TestDialFailureRetriesUntilConnected(t *testing.T) {
	d := newPipeDialer()
	d.fails = 2
	cfg := testConfig()
	cfg.Backoff.Jitter = true
	c := startConnector(t, cfg, d, WithRand(rand.New(rand.NewSource(11))))
	if err := c.Connect(testName, testAddress); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = d.nextPeer(t)
	waitState(t, c, Connected)
	if n := d.dialCount(); n != 3 {
		t.Fatalf("expected 3 dials, got %d", n)
	}
}

func TestDiscoveryPicksFirstMatch(t *testing.T) {
	d := newPipeDialer()
	scanner := discovery.StaticScanner{
		{Name: "Headphones", Address: "11:11:11:11:11:11", Network: discovery.NetworkRFCOMM},
		{Name: "Pebble Time 1A2B", Address: "127.0.0.1:47527", Network: discovery.NetworkTCP},
		{Name: "Pebble 3C4D", Address: "33:33:33:33:33:33", Network: discovery.NetworkRFCOMM},
	}
	c := startConnector(t, testConfig(), d, WithScanner(scanner))
	if err := c.Connect("", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = d.nextPeer(t)
	waitState(t, c, Connected)

	dev := d.dialed(0)
	if dev.Name != "Pebble Time 1A2B" || dev.Network != discovery.NetworkTCP {
		t.Fatalf("unexpected device %+v", dev)
	}
	if c.PeerName() != "Pebble Time 1A2B" {
		t.Fatalf("peer name got=%q", c.PeerName())
	}
}

func TestDiscoveryMissSchedulesRetry(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d, WithScanner(discovery.StaticScanner{{Name: "Headphones", Address: "11:11:11:11:11:11"}}))
	events, unsub := c.Subscribe()
	defer unsub()
	if err := c.Connect("", ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	discovering := 0
	timeout := time.After(waitFor)
	for discovering < 2 {
		select {
		case e := <-events:
			if e.Kind == EventState && e.State == "discovering" {
				discovering++
			}
		case <-timeout:
			t.Fatalf("expected repeated discovery, saw %d", discovering)
		}
	}
	if d.dialCount() != 0 {
		t.Fatalf("non-matching devices must not be dialed")
	}
}

func TestOneShotBeforePersistent(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	persistent := make(chan []byte, 4)
	if err := c.SetHandler(protocol.EndpointAppManager, func(p []byte) bool {
		persistent <- p
		return true
	}); err != nil {
		t.Fatalf("set handler: %v", err)
	}
	oneShot := make(chan []byte, 1)
	err := c.SendMessage(protocol.EndpointAppManager, []byte{protocol.AppManagerGetBankStatus}, router.OneShotFunc(func(p []byte) router.Disposition {
		oneShot <- p
		return router.Consumed
	}))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = mustReadFrame(t, peer)

	mustWriteFrame(t, peer, protocol.EndpointAppManager, []byte{0x01, 0xAA})
	mustWriteFrame(t, peer, protocol.EndpointAppManager, []byte{0x01, 0xBB})

	select {
	case p := <-oneShot:
		if p[1] != 0xAA {
			t.Fatalf("one-shot got % x", p)
		}
	case <-time.After(waitFor):
		t.Fatalf("one-shot not called")
	}
	select {
	case p := <-persistent:
		if p[1] != 0xBB {
			t.Fatalf("persistent got % x", p)
		}
	case <-time.After(waitFor):
		t.Fatalf("persistent not called")
	}
}

func TestHandlerMaySendFromLoop(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	err := c.SetHandler(protocol.EndpointAppLogs, func([]byte) bool {
		return c.Ping(99) == nil
	})
	if err != nil {
		t.Fatalf("set handler: %v", err)
	}
	mustWriteFrame(t, peer, protocol.EndpointAppLogs, []byte{0})
	f := mustReadFrame(t, peer)
	if protocol.Endpoint(f.Endpoint) != protocol.EndpointPing || f.Payload[4] != 99 {
		t.Fatalf("unexpected frame endpoint=%d payload=% x", f.Endpoint, f.Payload)
	}
}

func TestPingWaitMatchesCookie(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)

	go func() {
		f, err := readFrame(peer)
		if err != nil {
			return
		}
		cookie := f.Payload[1:5]
		_ = writeFrame(peer, protocol.EndpointPing, []byte{0x01, 0, 0, 0, 1})
		_ = writeFrame(peer, protocol.EndpointPing, append([]byte{0x01}, cookie...))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if _, err := c.PingWait(ctx, 0x0A0B0C0D); err != nil {
		t.Fatalf("ping wait: %v", err)
	}
}

func TestRequestCancelRemovesOneShot(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)
	go func() { _, _ = readFrame(peer) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, protocol.EndpointAppManager, []byte{protocol.AppManagerGetBankStatus}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got=%v", err)
	}
	eventually(t, "one-shot removal", func() bool {
		n, err := c.PendingOneShots(context.Background(), protocol.EndpointAppManager)
		return err == nil && n == 0
	})
}

func TestSendAppMessageAckAndNack(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)
	app := uuid.MustParse("0a7cd4d6-26f3-4f6b-9b55-1c4b1d1cfa8d")

	replies := []byte{protocol.AppMessageAck, protocol.AppMessageNack}
	go func() {
		for _, code := range replies {
			f, err := readFrame(peer)
			if err != nil {
				return
			}
			msg, err := protocol.ParseAppMessage(f.Payload)
			if err != nil {
				return
			}
			// An unrelated transaction must not resolve the request.
			_ = writeFrame(peer, protocol.EndpointAppMessage, []byte{code, msg.TransactionID + 100})
			_ = writeFrame(peer, protocol.EndpointAppMessage, []byte{code, msg.TransactionID})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := c.SendAppMessage(ctx, app, nil); err != nil {
		t.Fatalf("ack expected, got=%v", err)
	}
	if err := c.SendAppMessage(ctx, app, nil); !errors.Is(err, ErrNacked) {
		t.Fatalf("nack expected, got=%v", err)
	}
}

func TestInboundAppPushIsAcked(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()
	peer := connectPeer(t, c, d)
	app := uuid.MustParse("0a7cd4d6-26f3-4f6b-9b55-1c4b1d1cfa8d")

	push, err := protocol.EncodeAppMessagePush(9, app, typed.Dict{typed.String(1, "up")})
	if err != nil {
		t.Fatalf("encode push: %v", err)
	}
	mustWriteFrame(t, peer, protocol.EndpointAppMessage, push)
	ack := mustReadFrame(t, peer)
	if protocol.Endpoint(ack.Endpoint) != protocol.EndpointAppMessage || !bytes.Equal(ack.Payload, []byte{protocol.AppMessageAck, 9}) {
		t.Fatalf("unexpected ack endpoint=%d payload=% x", ack.Endpoint, ack.Payload)
	}

	deadline := time.After(waitFor)
	for {
		select {
		case e := <-events:
			if e.Kind != EventAppMessage {
				continue
			}
			if e.App != app.String() || e.Items != 1 {
				t.Fatalf("unexpected app event %+v", e)
			}
			return
		case <-deadline:
			t.Fatalf("no app message event")
		}
	}
}

func TestVersionHandshakeOnConnect(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.RequestVersionOnConnect = true
	c := startConnector(t, cfg, d)
	peer := connectPeer(t, c, d)

	req := mustReadFrame(t, peer)
	if protocol.Endpoint(req.Endpoint) != protocol.EndpointVersion || !bytes.Equal(req.Payload, []byte{0x00}) {
		t.Fatalf("unexpected version request endpoint=%d payload=% x", req.Endpoint, req.Payload)
	}

	reply := make([]byte, 1+47*2+4+9+12+6)
	reply[0] = 0x01
	copy(reply[5:], "v2.9.1")
	copy(reply[108:], "Q102445E01E5")
	mustWriteFrame(t, peer, protocol.EndpointVersion, reply)
	eventually(t, "serial number", func() bool { return c.SerialNumber() == "Q102445E01E5" })
	if c.Status().Firmware != "v2.9.1" {
		t.Fatalf("firmware got=%q", c.Status().Firmware)
	}

	mustWriteFrame(t, peer, protocol.EndpointPhoneVersion, []byte{0x00})
	pv := mustReadFrame(t, peer)
	if protocol.Endpoint(pv.Endpoint) != protocol.EndpointPhoneVersion || len(pv.Payload) != 17 || pv.Payload[0] != 0x01 {
		t.Fatalf("unexpected phone version endpoint=%d payload=% x", pv.Endpoint, pv.Payload)
	}
}

func TestPhoneControlEventFromWatch(t *testing.T) {
	d := newPipeDialer()
	c := startConnector(t, testConfig(), d)
	peer := connectPeer(t, c, d)
	events, unsub := c.Subscribe()
	defer unsub()

	mustWriteFrame(t, peer, protocol.EndpointPhoneControl, []byte{byte(protocol.CallHangup), 0, 0, 0, 42})
	timeout := time.After(waitFor)
	for {
		select {
		case e := <-events:
			if e.Kind != EventPhoneControl {
				continue
			}
			if e.Action != "hangup" || e.Cookie != 42 {
				t.Fatalf("unexpected event %+v", e)
			}
			return
		case <-timeout:
			t.Fatalf("no phone control event")
		}
	}
}

func TestOversizeInboundFrameSkipped(t *testing.T) {
	d := newPipeDialer()
	cfg := testConfig()
	cfg.Limits = frame.Limits{MaxPayloadBytes: 8}
	c := startConnector(t, cfg, d)
	peer := connectPeer(t, c, d)

	got := make(chan []byte, 1)
	if err := c.SetHandler(protocol.EndpointAppLogs, func(p []byte) bool { got <- p; return true }); err != nil {
		t.Fatalf("set handler: %v", err)
	}
	mustWriteFrame(t, peer, protocol.EndpointAppLogs, bytes.Repeat([]byte{0xEE}, 32))
	mustWriteFrame(t, peer, protocol.EndpointAppLogs, []byte{0x42})

	select {
	case p := <-got:
		if !bytes.Equal(p, []byte{0x42}) {
			t.Fatalf("expected only the small frame, got % x", p)
		}
	case <-time.After(waitFor):
		t.Fatalf("small frame not delivered")
	}
	if !c.IsConnected() {
		t.Fatalf("oversize frame must not drop the link")
	}
}

func TestRunLifecycle(t *testing.T) {
	testlog.Start(t)
	c := New(testConfig(), newPipeDialer(), WithLogger(zerolog.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	eventually(t, "loop running", func() bool { return c.running.Load() })
	if err := c.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second run got=%v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := c.Connect(testName, testAddress); !errors.Is(err, ErrClosed) {
		t.Fatalf("connect after stop got=%v", err)
	}
	if err := c.Ping(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after stop got=%v", err)
	}
}
