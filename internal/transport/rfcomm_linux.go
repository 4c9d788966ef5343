//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/watchlink/internal/discovery"
	"golang.org/x/sys/unix"
)

const rfcommPollSlice = 100 * time.Millisecond

// RFCOMMDialer opens a bluetooth serial port socket. The connect is
// non-blocking and abandoned when ctx ends or Timeout elapses.
type RFCOMMDialer struct {
	Timeout time.Duration
}

func (r RFCOMMDialer) Dial(ctx context.Context, d discovery.Device) (Conn, error) {
	addr, err := discovery.ParseBTAddress(d.Address)
	if err != nil {
		return nil, err
	}
	channel := d.Channel
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("transport: rfcomm socket: %w", err)
	}
	sa := &unix.SockaddrRFCOMM{Channel: channel}
	// Kernel byte order is the reverse of the display form.
	for i := range addr {
		sa.Addr[i] = addr[len(addr)-1-i]
	}

	if err := connectNonBlocking(ctx, fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("transport: rfcomm connect %s ch=%d: %w", d.Address, channel, err)
	}
	return os.NewFile(uintptr(fd), "rfcomm:"+d.Address), nil
}

func connectNonBlocking(ctx context.Context, fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return ErrConnectTimedOut
			}
			return ctxErr
		}
		n, err := unix.Poll(fds, int(rfcommPollSlice/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}
