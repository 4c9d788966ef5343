package connector

import (
	"time"

	"github.com/danmuck/watchlink/internal/discovery"
	"github.com/danmuck/watchlink/internal/protocol"
	"github.com/danmuck/watchlink/internal/protocol/frame"
)

// BackoffConfig defines reconnect delay growth.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines connection and protocol behavior.
type Config struct {
	ConnectTimeout   time.Duration
	DiscoveryTimeout time.Duration
	// NamePrefix selects devices when the identity has neither address
	// nor name.
	NamePrefix string
	// Network applies to identities with an address. Empty infers RFCOMM
	// for bluetooth addresses and TCP otherwise.
	Network        discovery.Network
	Channel        uint8
	ReadBufferSize int
	Limits         frame.Limits
	Backoff        BackoffConfig

	RequestVersionOnConnect bool
	SyncTimeOnConnect       bool
	Phone                   protocol.PhoneCapabilities
	EventBuffer             int
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   10 * time.Second,
		DiscoveryTimeout: 15 * time.Second,
		NamePrefix:       discovery.DefaultNamePrefix,
		Channel:          1,
		ReadBufferSize:   4096,
		Limits:           frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			Multiplier:   2.0,
			MaxDelay:     time.Minute,
			Jitter:       true,
		},
		RequestVersionOnConnect: true,
		SyncTimeOnConnect:       true,
		Phone:                   protocol.DefaultPhoneCapabilities(),
		EventBuffer:             64,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.Limits.MaxPayloadBytes <= 0 {
		c.Limits = d.Limits
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.Phone == (protocol.PhoneCapabilities{}) {
		c.Phone = d.Phone
	}
	return c
}
