package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// DefaultMDNSService is advertised by emulators and serial bridges.
const DefaultMDNSService = "_pebble._tcp"

// MDNSScanner browses for TCP-reachable devices.
type MDNSScanner struct {
	Service string
	Domain  string
	Timeout time.Duration
	Log     zerolog.Logger
}

func (s MDNSScanner) Scan(ctx context.Context, found func(Device)) error {
	service := s.Service
	if service == "" {
		service = DefaultMDNSService
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(service)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true
	if s.Domain != "" {
		params.Domain = s.Domain
	}

	done := make(chan error, 1)
	go func() {
		defer close(entriesCh)
		done <- mdns.Query(params)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-entriesCh:
			if !ok {
				if err := <-done; err != nil {
					return fmt.Errorf("discovery: mdns %s: %w", service, err)
				}
				return nil
			}
			d, ok := deviceFromEntry(entry)
			if !ok {
				continue
			}
			s.Log.Debug().Msgf("discovery.MDNSScanner found device=%s", d)
			found(d)
		}
	}
}

func deviceFromEntry(entry *mdns.ServiceEntry) (Device, bool) {
	if entry == nil {
		return Device{}, false
	}
	var host string
	switch {
	case entry.AddrV4 != nil:
		host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		host = fmt.Sprintf("[%s]", entry.AddrV6.String())
	default:
		return Device{}, false
	}
	return Device{
		Name:    instanceName(entry.Name),
		Address: fmt.Sprintf("%s:%d", host, entry.Port),
		Network: NetworkTCP,
	}, true
}

// instanceName strips the service and domain suffix from an mDNS name.
func instanceName(full string) string {
	if i := strings.Index(full, "._"); i > 0 {
		full = full[:i]
	}
	return strings.ReplaceAll(full, `\ `, " ")
}
