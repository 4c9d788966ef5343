// Package connector owns the device link: the reconnecting state machine,
// frame reassembly, serialized writes and inbound dispatch.
//
// All mutable state belongs to one loop goroutine started by Run. Public
// methods post closures to an unbounded inbox and never wait on the loop,
// so handlers running on the loop may call back into the Connector. Sends
// are admitted against the connection state as of every call already
// submitted, not the last state the loop published.
package connector

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/watchlink/internal/discovery"
	"github.com/danmuck/watchlink/internal/observability"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/frame"
	"github.com/danmuck/watchlink/internal/router"
	"github.com/danmuck/watchlink/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected   = errors.New("connector: not connected")
	ErrClosed         = errors.New("connector: closed")
	ErrAlreadyRunning = errors.New("connector: already running")
	ErrNoIdentity     = errors.New("connector: no device identity")
	ErrNacked         = errors.New("connector: message rejected by device")
)

type outbound struct {
	ep   protocol.Endpoint
	wire []byte
}

// link is one open transport connection and its writer feed.
type link struct {
	conn   transport.Conn
	writes chan outbound
	device discovery.Device
}

type Option func(*Connector)

func WithScanner(s discovery.Scanner) Option {
	return func(c *Connector) { c.scanner = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Connector) { c.log = l }
}

// WithClock replaces the wall clock used for timestamps and time sync.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) { c.now = now }
}

func WithRand(r *rand.Rand) Option {
	return func(c *Connector) { c.rng = r }
}

type Connector struct {
	cfg     Config
	dialer  transport.Dialer
	scanner discovery.Scanner
	log     zerolog.Logger
	now     func() time.Time
	events  *EventBus
	running atomic.Bool

	mu     sync.Mutex
	inbox  []func()
	closed bool
	wake   chan struct{}
	// Guarded by mu. linkConnected mirrors state == Connected; pendingCtl counts
	// Connect/Disconnect/Reconnect calls the loop has not run yet.
	linkConnected bool
	pendingCtl    int
	wantIdentity  bool

	snapMu sync.RWMutex
	snap   snapshot

	cookie atomic.Uint32
	txid   atomic.Uint32

	// Loop-owned.
	runCtx        context.Context
	router        *router.Router
	state         State
	identity      Identity
	hasIdentity   bool
	peerName      string
	version       protocol.WatchVersion
	gen           uint64
	cancelAttempt context.CancelFunc
	link          *link
	stream        *frame.Stream
	writeQ        []outbound
	writing       bool
	timer         *time.Timer
	timerSeq      uint64
	attempts      int
	rng           *rand.Rand
}

func New(cfg Config, dialer transport.Dialer, opts ...Option) *Connector {
	cfg = cfg.normalized()
	c := &Connector{
		cfg:    cfg,
		dialer: dialer,
		log:    log.Logger.With().Str("component", "connector").Logger(),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		stream: frame.NewStream(cfg.Limits),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.events = NewEventBus(cfg.EventBuffer)
	c.router = router.New(c.log)
	c.installBuiltins()
	return c
}

// Run processes the inbox until ctx ends, then closes the link. Methods
// called after Run returns fail with ErrClosed.
func (c *Connector) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.runCtx = ctx
	c.log.Info().Msg("connector.Run started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			c.log.Info().Msg("connector.Run stopped")
			return nil
		case <-c.wake:
		}
		for _, fn := range c.drain() {
			fn()
		}
	}
}

func (c *Connector) post(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.inbox = append(c.inbox, fn)
	c.mu.Unlock()
	c.wakeLoop()
	return true
}

func (c *Connector) wakeLoop() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// control posts a call that changes the connection. intent runs under mu
// at submission and may refuse the call. Sends submitted before the loop
// runs fn fail with ErrNotConnected.
func (c *Connector) control(fn func(), intent func() error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if intent != nil {
		if err := intent(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.pendingCtl++
	c.inbox = append(c.inbox, func() {
		fn()
		c.mu.Lock()
		c.pendingCtl--
		c.mu.Unlock()
	})
	c.mu.Unlock()
	c.wakeLoop()
	return nil
}

// admit posts a send closure if the link is up once every earlier
// submitted call has run.
func (c *Connector) admit(fn func()) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.linkConnected || c.pendingCtl > 0:
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.inbox = append(c.inbox, fn)
	c.mu.Unlock()
	c.wakeLoop()
	return nil
}

func (c *Connector) drain() []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.inbox
	c.inbox = nil
	return batch
}

// call runs fn on the loop and waits for it.
func (c *Connector) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connector) shutdown() {
	c.mu.Lock()
	c.closed = true
	c.inbox = nil
	c.mu.Unlock()

	c.stopTimer()
	c.teardown()
	c.setState(Disconnected)
}

// Connect records the identity and starts an attempt. Repeating the
// current identity while an attempt or link is live does nothing.
func (c *Connector) Connect(name, address string) error {
	id := Identity{Name: name, Address: address}
	return c.control(func() { c.connect(id) }, func() error {
		c.wantIdentity = true
		return nil
	})
}

// Disconnect drops the link and forgets the identity so no reconnect
// follows.
func (c *Connector) Disconnect() error {
	return c.control(c.disconnect, func() error {
		c.wantIdentity = false
		return nil
	})
}

// Reconnect drops any live link and attempts again immediately with the
// retained identity.
func (c *Connector) Reconnect() error {
	return c.control(c.reconnect, func() error {
		if !c.wantIdentity {
			return ErrNoIdentity
		}
		return nil
	})
}

func (c *Connector) connect(id Identity) {
	if c.hasIdentity && c.identity == id && c.state != Disconnected {
		return
	}
	c.log.Info().Msgf("connector.Connect name=%q address=%q", id.Name, id.Address)
	if c.identity != id {
		c.version = protocol.WatchVersion{}
	}
	c.identity = id
	c.hasIdentity = true
	c.attempts = 0
	c.setPeerName(id.Name)
	c.stopTimer()
	c.teardown()
	c.setState(Disconnected)
	c.startAttempt()
}

func (c *Connector) disconnect() {
	c.log.Info().Msgf("connector.Disconnect state=%s", c.state)
	wasConnected := c.state == Connected
	c.hasIdentity = false
	c.identity = Identity{}
	c.attempts = 0
	c.version = protocol.WatchVersion{}
	c.stopTimer()
	c.teardown()
	c.setPeerName("")
	c.setState(Disconnected)
	c.publishSnapshot()
	if !wasConnected {
		c.events.Publish(Event{Kind: EventConnectivity, State: Disconnected.String()})
	}
}

func (c *Connector) reconnect() {
	if !c.hasIdentity {
		c.log.Warn().Msg("connector.Reconnect without identity")
		return
	}
	c.log.Info().Msgf("connector.Reconnect state=%s", c.state)
	c.attempts = 0
	c.stopTimer()
	c.teardown()
	c.setState(Disconnected)
	c.startAttempt()
}

func (c *Connector) startAttempt() {
	c.stopTimer()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelAttempt = cancel
	id := c.identity
	c.setState(Discovering)

	go func() {
		dev, err := c.resolve(ctx, id)
		if err != nil {
			c.post(func() { c.attemptFailed(gen, err) })
			return
		}
		c.post(func() { c.dialing(gen, dev) })
		conn, err := c.dialer.Dial(ctx, dev)
		if !c.post(func() { c.attemptDone(gen, dev, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Connector) resolve(ctx context.Context, id Identity) (discovery.Device, error) {
	if id.Address != "" {
		return discovery.Device{
			Name:    id.Name,
			Address: id.Address,
			Network: c.networkFor(id.Address),
			Channel: c.cfg.Channel,
		}, nil
	}
	if c.cfg.DiscoveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DiscoveryTimeout)
		defer cancel()
	}
	return discovery.First(ctx, c.scanner, id.filter(c.cfg.NamePrefix))
}

func (c *Connector) networkFor(address string) discovery.Network {
	if c.cfg.Network != "" {
		return c.cfg.Network
	}
	if _, err := discovery.ParseBTAddress(address); err == nil {
		return discovery.NetworkRFCOMM
	}
	if _, _, err := net.SplitHostPort(address); err == nil {
		return discovery.NetworkTCP
	}
	return discovery.NetworkRFCOMM
}

func (c *Connector) dialing(gen uint64, dev discovery.Device) {
	if gen != c.gen {
		return
	}
	if dev.Name != "" {
		c.setPeerName(dev.Name)
	}
	c.log.Debug().Msgf("connector.dial device=%s", dev)
	c.setState(Connecting)
}

func (c *Connector) attemptDone(gen uint64, dev discovery.Device, conn transport.Conn, err error) {
	if gen != c.gen || c.state != Connecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.attemptFailed(gen, err)
		return
	}
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.linkUp(gen, dev, conn)
}

func (c *Connector) attemptFailed(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	observability.RecordConnectAttempt(false)
	c.log.Warn().Err(err).Msgf("connector.attempt failed state=%s", c.state)
	c.setState(Disconnected)
	c.scheduleRetry()
}

// scheduleRetry arms the single reconnect timer while an identity is
// retained.
func (c *Connector) scheduleRetry() {
	if !c.hasIdentity {
		return
	}
	c.stopTimer()
	c.attempts++
	delay := NextBackoffDelay(c.cfg.Backoff, c.attempts, c.rng)
	seq := c.timerSeq
	c.timer = time.AfterFunc(delay, func() {
		c.post(func() { c.retryDue(seq) })
	})
	c.log.Info().Msgf("connector.reconnect scheduled attempt=%d delay=%s", c.attempts, delay)
}

func (c *Connector) retryDue(seq uint64) {
	if seq != c.timerSeq || c.state != Disconnected || !c.hasIdentity {
		return
	}
	c.timer = nil
	c.startAttempt()
}

func (c *Connector) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

// teardown releases the link and any attempt in flight. Events tagged
// with an older generation are ignored afterwards.
func (c *Connector) teardown() {
	c.gen++
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	if c.link != nil {
		close(c.link.writes)
		_ = c.link.conn.Close()
		c.link = nil
	}
	if n := len(c.writeQ); n > 0 {
		c.log.Debug().Msgf("connector.teardown discarded writes=%d", n)
	}
	c.writeQ = nil
	c.writing = false
	c.stream.Reset()
}

func (c *Connector) setState(s State) {
	if s == c.state {
		return
	}
	prev := c.state
	c.state = s
	c.mu.Lock()
	c.linkConnected = s == Connected
	c.mu.Unlock()
	c.log.Info().Msgf("connector.state %s -> %s", prev, s)
	observability.SetConnectionState(int(s))
	c.publishSnapshot()

	connected := s == Connected
	c.events.Publish(Event{Kind: EventState, State: s.String(), Connected: connected, Name: c.peerName})
	if (prev == Connected) != connected {
		c.events.Publish(Event{Kind: EventConnectivity, State: s.String(), Connected: connected, Name: c.peerName})
	}
}

func (c *Connector) setPeerName(name string) {
	if name == c.peerName {
		return
	}
	c.peerName = name
	c.publishSnapshot()
	c.events.Publish(Event{Kind: EventName, Name: name, State: c.state.String(), Connected: c.state == Connected})
}

func (c *Connector) publishSnapshot() {
	c.snapMu.Lock()
	c.snap = snapshot{
		state:       c.state,
		identity:    c.identity,
		hasIdentity: c.hasIdentity,
		peerName:    c.peerName,
		serial:      c.version.Serial,
		btAddress:   c.version.BTAddress,
		firmware:    c.version.Running.Version,
	}
	c.snapMu.Unlock()
}

func (c *Connector) snapshot() snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}
