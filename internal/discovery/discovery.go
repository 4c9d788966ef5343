// Package discovery finds candidate devices for the connector.
//
// A Scanner reports every device it sees; the connector applies a Filter
// and dials the first match.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotFound   = errors.New("discovery: no matching device")
	ErrNoScanner  = errors.New("discovery: no scanner configured")
	ErrBadAddress = errors.New("discovery: invalid bluetooth address")
)

// Network names the transport a Device is reachable on.
type Network string

const (
	NetworkRFCOMM Network = "rfcomm"
	NetworkTCP    Network = "tcp"
)

// DefaultNamePrefix matches the advertised name of the supported watches.
const DefaultNamePrefix = "Pebble"

// Device is a reachable peer. Address is a bluetooth address for RFCOMM
// and host:port for TCP.
type Device struct {
	Name    string
	Address string
	Network Network
	Channel uint8
}

func (d Device) String() string {
	if d.Name == "" {
		return fmt.Sprintf("%s/%s", d.Network, d.Address)
	}
	return fmt.Sprintf("%s(%s/%s)", d.Name, d.Network, d.Address)
}

// Filter selects discovered devices. The most specific non-empty field
// decides: Address, then Name, then NamePrefix.
type Filter struct {
	Address    string
	Name       string
	NamePrefix string
}

func (f Filter) Match(d Device) bool {
	switch {
	case f.Address != "":
		return strings.EqualFold(f.Address, d.Address)
	case f.Name != "":
		return f.Name == d.Name
	case f.NamePrefix != "":
		return strings.HasPrefix(d.Name, f.NamePrefix)
	default:
		return true
	}
}

// Scanner reports devices until ctx ends or the scan completes.
// found may be called more than once for the same device.
type Scanner interface {
	Scan(ctx context.Context, found func(Device)) error
}

// First runs s until a device matching f is seen.
func First(ctx context.Context, s Scanner, f Filter) (Device, error) {
	if s == nil {
		return Device{}, ErrNoScanner
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		match Device
		ok    bool
	)
	err := s.Scan(ctx, func(d Device) {
		if ok || !f.Match(d) {
			return
		}
		match, ok = d, true
		cancel()
	})
	if ok {
		return match, nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return Device{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
		return Device{}, ctxErr
	}
	return Device{}, ErrNotFound
}

// StaticScanner reports a fixed device list.
type StaticScanner []Device

func (s StaticScanner) Scan(ctx context.Context, found func(Device)) error {
	for _, d := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		found(d)
	}
	return nil
}

// Multi runs scanners in order until one reports a device.
type Multi []Scanner

func (m Multi) Scan(ctx context.Context, found func(Device)) error {
	var errs []error
	for _, s := range m {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Scan(ctx, found); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseBTAddress parses "AA:BB:CC:DD:EE:FF" into display-order bytes.
func ParseBTAddress(s string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != len(out) {
		return out, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return out, fmt.Errorf("%w: %q", ErrBadAddress, s)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrBadAddress, s)
		}
		out[i] = byte(v)
	}
	return out, nil
}
