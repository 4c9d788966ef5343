//go:build !linux

package transport

import (
	"context"
	"time"

	"github.com/danmuck/watchlink/internal/discovery"
)

// RFCOMMDialer is only implemented on Linux.
type RFCOMMDialer struct {
	Timeout time.Duration
}

func (RFCOMMDialer) Dial(context.Context, discovery.Device) (Conn, error) {
	return nil, ErrUnsupported
}
