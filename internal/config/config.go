// Package config loads the daemon's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/watchlink/internal/connector"
	"github.com/danmuck/watchlink/internal/discovery"
	"github.com/danmuck/watchlink/internal/protocol"
)

var ErrInvalid = errors.New("config: invalid")

const (
	ScannerBlueZ = "bluez"
	ScannerMDNS  = "mdns"
)

const DefaultAPIAddr = "127.0.0.1:7341"

// Config is the resolved daemon configuration.
type Config struct {
	Device      connector.Identity
	Autoconnect bool
	Connector   connector.Config
	Discovery   DiscoveryConfig
	API         APIConfig
	Log         LogConfig
}

type DiscoveryConfig struct {
	Scanners    []string
	Adapter     string
	MDNSService string
	Static      []discovery.Device
}

type APIConfig struct {
	Enabled     bool
	Addr        string
	CorsOrigins []string
}

type LogConfig struct {
	Level     string
	JSON      bool
	NoColor   bool
	Timestamp bool
}

func Default() Config {
	return Config{
		Autoconnect: true,
		Connector:   connector.DefaultConfig(),
		Discovery: DiscoveryConfig{
			Scanners:    []string{ScannerBlueZ},
			Adapter:     "hci0",
			MDNSService: discovery.DefaultMDNSService,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    DefaultAPIAddr,
		},
		Log: LogConfig{Level: "info", Timestamp: true},
	}
}

type fileConfig struct {
	Device struct {
		Name        string `toml:"name"`
		Address     string `toml:"address"`
		Network     string `toml:"network"`
		Channel     int    `toml:"channel"`
		Autoconnect bool   `toml:"autoconnect"`
	} `toml:"device"`
	Discovery struct {
		Scanners    []string     `toml:"scanners"`
		NamePrefix  string       `toml:"name_prefix"`
		Timeout     string       `toml:"timeout"`
		Adapter     string       `toml:"adapter"`
		MDNSService string       `toml:"mdns_service"`
		Static      []staticFile `toml:"static"`
	} `toml:"discovery"`
	Reconnect struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
	} `toml:"reconnect"`
	Protocol struct {
		ConnectTimeout  string `toml:"connect_timeout"`
		MaxPayloadBytes int    `toml:"max_payload_bytes"`
		ReadBuffer      int    `toml:"read_buffer"`
		RequestVersion  bool   `toml:"request_version"`
		SyncTime        bool   `toml:"sync_time"`
	} `toml:"protocol"`
	Phone struct {
		OS        string `toml:"os"`
		Telephony bool   `toml:"telephony"`
		SMS       bool   `toml:"sms"`
	} `toml:"phone"`
	API struct {
		Enabled     bool     `toml:"enabled"`
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"api"`
	Log struct {
		Level     string `toml:"level"`
		JSON      bool   `toml:"json"`
		NoColor   bool   `toml:"no_color"`
		Timestamp bool   `toml:"timestamp"`
	} `toml:"log"`
}

type staticFile struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
	Network string `toml:"network"`
	Channel int    `toml:"channel"`
}

// Load reads path over Default. Keys absent from the file keep their
// default values. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	if err := apply(&cfg, raw, meta); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg *Config, raw fileConfig, meta toml.MetaData) error {
	c := &cfg.Connector

	if meta.IsDefined("device", "name") {
		cfg.Device.Name = strings.TrimSpace(raw.Device.Name)
	}
	if meta.IsDefined("device", "address") {
		cfg.Device.Address = strings.TrimSpace(raw.Device.Address)
	}
	if meta.IsDefined("device", "network") {
		c.Network = discovery.Network(strings.ToLower(strings.TrimSpace(raw.Device.Network)))
	}
	if meta.IsDefined("device", "channel") {
		ch, err := channel(raw.Device.Channel)
		if err != nil {
			return err
		}
		c.Channel = ch
	}
	if meta.IsDefined("device", "autoconnect") {
		cfg.Autoconnect = raw.Device.Autoconnect
	}

	if meta.IsDefined("discovery", "scanners") {
		cfg.Discovery.Scanners = normalizeList(raw.Discovery.Scanners, true)
	}
	if meta.IsDefined("discovery", "name_prefix") {
		c.NamePrefix = strings.TrimSpace(raw.Discovery.NamePrefix)
	}
	if err := duration(meta, raw.Discovery.Timeout, &c.DiscoveryTimeout, "discovery", "timeout"); err != nil {
		return err
	}
	if meta.IsDefined("discovery", "adapter") {
		cfg.Discovery.Adapter = strings.TrimSpace(raw.Discovery.Adapter)
	}
	if meta.IsDefined("discovery", "mdns_service") {
		cfg.Discovery.MDNSService = strings.TrimSpace(raw.Discovery.MDNSService)
	}
	for _, s := range raw.Discovery.Static {
		ch, err := channel(s.Channel)
		if err != nil {
			return err
		}
		cfg.Discovery.Static = append(cfg.Discovery.Static, discovery.Device{
			Name:    strings.TrimSpace(s.Name),
			Address: strings.TrimSpace(s.Address),
			Network: discovery.Network(strings.ToLower(strings.TrimSpace(s.Network))),
			Channel: ch,
		})
	}

	if err := duration(meta, raw.Reconnect.InitialDelay, &c.Backoff.InitialDelay, "reconnect", "initial_delay"); err != nil {
		return err
	}
	if meta.IsDefined("reconnect", "multiplier") {
		c.Backoff.Multiplier = raw.Reconnect.Multiplier
	}
	if err := duration(meta, raw.Reconnect.MaxDelay, &c.Backoff.MaxDelay, "reconnect", "max_delay"); err != nil {
		return err
	}
	if meta.IsDefined("reconnect", "jitter") {
		c.Backoff.Jitter = raw.Reconnect.Jitter
	}

	if err := duration(meta, raw.Protocol.ConnectTimeout, &c.ConnectTimeout, "protocol", "connect_timeout"); err != nil {
		return err
	}
	if meta.IsDefined("protocol", "max_payload_bytes") {
		c.Limits.MaxPayloadBytes = raw.Protocol.MaxPayloadBytes
	}
	if meta.IsDefined("protocol", "read_buffer") {
		c.ReadBufferSize = raw.Protocol.ReadBuffer
	}
	if meta.IsDefined("protocol", "request_version") {
		c.RequestVersionOnConnect = raw.Protocol.RequestVersion
	}
	if meta.IsDefined("protocol", "sync_time") {
		c.SyncTimeOnConnect = raw.Protocol.SyncTime
	}

	if meta.IsDefined("phone", "os") {
		osID, err := phoneOS(raw.Phone.OS)
		if err != nil {
			return err
		}
		c.Phone.OS = osID
	}
	if meta.IsDefined("phone", "telephony") {
		c.Phone.Remote = setFlag(c.Phone.Remote, protocol.RemoteCapTelephony, raw.Phone.Telephony)
	}
	if meta.IsDefined("phone", "sms") {
		c.Phone.Remote = setFlag(c.Phone.Remote, protocol.RemoteCapSMS, raw.Phone.SMS)
	}

	if meta.IsDefined("api", "enabled") {
		cfg.API.Enabled = raw.API.Enabled
	}
	if meta.IsDefined("api", "addr") {
		cfg.API.Addr = strings.TrimSpace(raw.API.Addr)
	}
	if meta.IsDefined("api", "cors_origins") {
		cfg.API.CorsOrigins = normalizeList(raw.API.CorsOrigins, false)
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "json") {
		cfg.Log.JSON = raw.Log.JSON
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	return nil
}

// Validate rejects configurations the daemon cannot run.
func Validate(cfg Config) error {
	switch cfg.Connector.Network {
	case "", discovery.NetworkRFCOMM, discovery.NetworkTCP:
	default:
		return fmt.Errorf("%w: device.network %q", ErrInvalid, cfg.Connector.Network)
	}
	if cfg.Connector.Network == discovery.NetworkRFCOMM && cfg.Device.Address != "" {
		if _, err := discovery.ParseBTAddress(cfg.Device.Address); err != nil {
			return fmt.Errorf("%w: device.address: %v", ErrInvalid, err)
		}
	}
	for _, s := range cfg.Discovery.Scanners {
		if !slices.Contains([]string{ScannerBlueZ, ScannerMDNS}, s) {
			return fmt.Errorf("%w: unknown scanner %q", ErrInvalid, s)
		}
	}
	for _, d := range cfg.Discovery.Static {
		if d.Address == "" {
			return fmt.Errorf("%w: discovery.static entry %q has no address", ErrInvalid, d.Name)
		}
	}
	b := cfg.Connector.Backoff
	if b.InitialDelay < 0 || b.MaxDelay < 0 || (b.MaxDelay > 0 && b.MaxDelay < b.InitialDelay) {
		return fmt.Errorf("%w: reconnect delays initial=%s max=%s", ErrInvalid, b.InitialDelay, b.MaxDelay)
	}
	if n := cfg.Connector.Limits.MaxPayloadBytes; n < 0 || n > 0xFFFF {
		return fmt.Errorf("%w: protocol.max_payload_bytes %d", ErrInvalid, n)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return fmt.Errorf("%w: api.addr is required when the api is enabled", ErrInvalid)
	}
	return nil
}

func duration(meta toml.MetaData, raw string, dst *time.Duration, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
	}
	*dst = d
	return nil
}

func channel(v int) (uint8, error) {
	if v < 0 || v > 30 {
		return 0, fmt.Errorf("%w: rfcomm channel %d", ErrInvalid, v)
	}
	return uint8(v), nil
}

func phoneOS(raw string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "android":
		return protocol.OSAndroid, nil
	case "ios":
		return protocol.OSIOS, nil
	case "linux":
		return protocol.OSLinux, nil
	default:
		return 0, fmt.Errorf("%w: phone.os %q", ErrInvalid, raw)
	}
}

func setFlag(v, flag uint32, on bool) uint32 {
	if on {
		return v | flag
	}
	return v &^ flag
}

func normalizeList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
