package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	bluezService      = "org.bluez"
	bluezAdapterIface = "org.bluez.Adapter1"
	bluezDeviceIface  = "org.bluez.Device1"
	objectManagerGet  = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZScanner lists bluetooth devices known to the BlueZ daemon while an
// adapter discovery session runs. Paired devices are reported on the first
// poll.
type BlueZScanner struct {
	Adapter  string
	Duration time.Duration
	Interval time.Duration
	Channel  uint8
	Log      zerolog.Logger
}

func (s BlueZScanner) Scan(ctx context.Context, found func(Device)) error {
	adapter := s.Adapter
	if adapter == "" {
		adapter = "hci0"
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	if s.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Duration)
		defer cancel()
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("discovery: system bus: %w", err)
	}
	adapterObj := conn.Object(bluezService, dbus.ObjectPath("/org/bluez/"+adapter))
	if call := adapterObj.CallWithContext(ctx, bluezAdapterIface+".StartDiscovery", 0); call.Err != nil {
		s.Log.Warn().Err(call.Err).Msgf("discovery.BlueZScanner start discovery adapter=%s", adapter)
	} else {
		defer adapterObj.Call(bluezAdapterIface+".StopDiscovery", 0)
	}

	root := conn.Object(bluezService, dbus.ObjectPath("/"))
	seen := make(map[string]bool)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var objs managedObjects
		if err := root.CallWithContext(ctx, objectManagerGet, 0).Store(&objs); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("discovery: bluez objects: %w", err)
		}
		for _, d := range devicesFromObjects(objs, s.Channel) {
			if seen[d.Address] {
				continue
			}
			seen[d.Address] = true
			s.Log.Debug().Msgf("discovery.BlueZScanner found device=%s", d)
			found(d)
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// devicesFromObjects extracts Device1 objects sorted by object path.
func devicesFromObjects(objs managedObjects, channel uint8) []Device {
	paths := make([]string, 0, len(objs))
	for p := range objs {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	var out []Device
	for _, p := range paths {
		props, ok := objs[dbus.ObjectPath(p)][bluezDeviceIface]
		if !ok {
			continue
		}
		addr := variantString(props["Address"])
		if addr == "" {
			continue
		}
		name := variantString(props["Name"])
		if name == "" {
			name = variantString(props["Alias"])
		}
		out = append(out, Device{Name: name, Address: addr, Network: NetworkRFCOMM, Channel: channel})
	}
	return out
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}
