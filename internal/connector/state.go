package connector

import (
	"github.com/danmuck/watchlink/internal/discovery"
)

// State is the connection lifecycle position.
type State int32

const (
	Disconnected State = iota
	Discovering
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Identity is the peer the connector keeps trying to reach. An empty
// Address is resolved through discovery by Name, or by the configured
// name prefix when Name is empty too.
type Identity struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

func (id Identity) filter(prefix string) discovery.Filter {
	if id.Name != "" {
		return discovery.Filter{Name: id.Name}
	}
	return discovery.Filter{NamePrefix: prefix}
}

// snapshot is the status the loop publishes for lock-protected reads.
type snapshot struct {
	state       State
	identity    Identity
	hasIdentity bool
	peerName    string
	serial      string
	btAddress   string
	firmware    string
}
