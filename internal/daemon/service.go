// Package daemon wires configuration, discovery, transport, the connector
// and the HTTP API into one runnable process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/watchlink/internal/api"
	"github.com/danmuck/watchlink/internal/config"
	"github.com/danmuck/watchlink/internal/connector"
	"github.com/danmuck/watchlink/internal/discovery"
	"github.com/danmuck/watchlink/internal/logging"
	"github.com/danmuck/watchlink/internal/mcptool"
	"github.com/danmuck/watchlink/internal/transport"
	"github.com/rs/zerolog"
)

var ErrUnknownScanner = errors.New("daemon: unknown scanner")

type Option func(*Service)

// WithDialer replaces the transport switch built from config.
func WithDialer(d transport.Dialer) Option {
	return func(s *Service) { s.dialer = d }
}

// WithScanner replaces the scanners built from config.
func WithScanner(sc discovery.Scanner) Option {
	return func(s *Service) { s.scanner = sc }
}

// WithMCP serves MCP tools on in and out alongside the daemon. Run returns
// when in reaches EOF.
func WithMCP(in io.Reader, out io.Writer) Option {
	return func(s *Service) {
		s.mcpIn = in
		s.mcpOut = out
	}
}

// Service owns the connector and API server for one configured device.
type Service struct {
	cfg     config.Config
	log     zerolog.Logger
	dialer  transport.Dialer
	scanner discovery.Scanner
	conn    *connector.Connector
	api     *api.Server
	mcp     *mcptool.Server
	mcpIn   io.Reader
	mcpOut  io.Writer
}

func New(cfg config.Config, opts ...Option) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Component("daemon")
	if s.dialer == nil {
		s.dialer = transport.Default(cfg.Connector.ConnectTimeout)
	}
	if s.scanner == nil {
		sc, err := BuildScanner(cfg.Discovery, cfg.Connector.Channel)
		if err != nil {
			return nil, err
		}
		s.scanner = sc
	}
	s.conn = connector.New(cfg.Connector, s.dialer,
		connector.WithScanner(s.scanner),
		connector.WithLogger(logging.Component("connector")),
	)
	if cfg.API.Enabled {
		s.api = api.New(s.conn, api.Config{
			Addr:        cfg.API.Addr,
			CorsOrigins: cfg.API.CorsOrigins,
		}, logging.Component("api"))
	}
	if s.mcpIn != nil {
		s.mcp = mcptool.New(s.conn, logging.Component("mcp"))
	}
	return s, nil
}

func (s *Service) Connector() *connector.Connector {
	return s.conn
}

// API is nil when the HTTP surface is disabled.
func (s *Service) API() *api.Server {
	return s.api
}

// RunWithSignals runs until SIGINT or SIGTERM.
func (s *Service) RunWithSignals() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run blocks until ctx ends or a component fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	events, unsubscribe := s.conn.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.journal(events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.conn.Run(ctx); err != nil {
			errCh <- fmt.Errorf("connector: %w", err)
		}
	}()

	if s.api != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.api.Serve(ctx); err != nil {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	if s.mcp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.mcp.Serve(ctx, s.mcpIn, s.mcpOut)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("mcp: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	if s.cfg.Autoconnect {
		id := s.cfg.Device
		if err := s.conn.Connect(id.Name, id.Address); err != nil {
			s.log.Warn().Err(err).Msg("daemon.autoconnect failed")
		}
	}
	s.log.Info().Msgf("daemon.Run started autoconnect=%t api=%t", s.cfg.Autoconnect, s.api != nil)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			s.log.Error().Err(runErr).Msg("daemon.Run component failed")
		}
		cancel()
	}
	unsubscribe()
	wg.Wait()
	s.log.Info().Msg("daemon.Run stopped")
	return runErr
}

// journal logs connector events until the subscription closes.
func (s *Service) journal(events <-chan connector.Event) {
	for e := range events {
		switch e.Kind {
		case connector.EventState:
			s.log.Info().Msgf("daemon.event state=%s", e.State)
		case connector.EventVersion:
			s.log.Info().Msgf("daemon.event version serial=%s firmware=%s", e.Serial, e.Firmware)
		case connector.EventName:
			s.log.Info().Msgf("daemon.event name=%q", e.Name)
		default:
			s.log.Debug().Msgf("daemon.event kind=%s", e.Kind)
		}
	}
}

// BuildScanner combines the static device list with the configured
// scanner backends, in that order.
func BuildScanner(cfg config.DiscoveryConfig, channel uint8) (discovery.Scanner, error) {
	var m discovery.Multi
	if len(cfg.Static) > 0 {
		m = append(m, discovery.StaticScanner(cfg.Static))
	}
	for _, name := range cfg.Scanners {
		switch name {
		case config.ScannerBlueZ:
			m = append(m, discovery.BlueZScanner{
				Adapter: cfg.Adapter,
				Channel: channel,
				Log:     logging.Component("bluez"),
			})
		case config.ScannerMDNS:
			m = append(m, discovery.MDNSScanner{
				Service: cfg.MDNSService,
				Log:     logging.Component("mdns"),
			})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownScanner, name)
		}
	}
	return m, nil
}

// LoggerConfig maps the [log] section onto the logger setup.
func LoggerConfig(cfg config.LogConfig) logging.Config {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(cfg.Level); ok {
		lc.Level = lvl
	}
	lc.JSON = cfg.JSON
	lc.NoColor = cfg.NoColor
	lc.Timestamp = cfg.Timestamp
	logging.ApplyEnvOverrides(&lc)
	return lc
}
