// Package transport opens byte streams to devices.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/watchlink/internal/discovery"
)

var (
	ErrUnsupported     = errors.New("transport: network unsupported")
	ErrUnknownNetwork  = errors.New("transport: unknown network")
	ErrConnectTimedOut = errors.New("transport: connect timed out")
)

// DefaultRFCOMMChannel is the serial port channel the watch listens on.
const DefaultRFCOMMChannel uint8 = 1

// Conn is an open stream to a device. Close unblocks a pending Read.
type Conn = io.ReadWriteCloser

// Dialer opens a Conn to a discovered device.
type Dialer interface {
	Dial(ctx context.Context, d discovery.Device) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, d discovery.Device) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, d discovery.Device) (Conn, error) {
	return f(ctx, d)
}

// TCPDialer reaches emulators and serial-over-TCP bridges.
type TCPDialer struct {
	Timeout time.Duration
}

func (t TCPDialer) Dial(ctx context.Context, d discovery.Device) (Conn, error) {
	dialer := net.Dialer{Timeout: t.Timeout, KeepAlive: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", d.Address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// Switch routes a dial to the dialer for the device's network. A device
// with no network set is treated as RFCOMM.
type Switch struct {
	RFCOMM Dialer
	TCP    Dialer
}

// Default returns a Switch with the platform dialers.
func Default(connectTimeout time.Duration) Switch {
	return Switch{
		RFCOMM: RFCOMMDialer{Timeout: connectTimeout},
		TCP:    TCPDialer{Timeout: connectTimeout},
	}
}

func (s Switch) Dial(ctx context.Context, d discovery.Device) (Conn, error) {
	var next Dialer
	switch d.Network {
	case discovery.NetworkRFCOMM, "":
		next = s.RFCOMM
	case discovery.NetworkTCP:
		next = s.TCP
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, d.Network)
	}
	if next == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, d.Network)
	}
	return next.Dial(ctx, d)
}
