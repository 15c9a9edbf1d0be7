//go:build linux

package hotplug

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pccr10001/modemd/pkg/logger"
)

const (
	ueventBufSize = 8192
	// the receive timeout bounds how long Close waits for the reader
	readTimeout = 500 * time.Millisecond
)

// Netlink receives kernel uevents on a NETLINK_KOBJECT_UEVENT socket.
type Netlink struct {
	fd     int
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// OpenNetlink subscribes to the kernel uevent multicast group. Failure
// wraps ErrUnavailable.
func OpenNetlink(buffer int) (*Netlink, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrUnavailable, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: bind: %v", ErrUnavailable, err)
	}
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: set receive timeout: %v", ErrUnavailable, err)
	}

	if buffer <= 0 {
		buffer = 64
	}
	n := &Netlink{
		fd:     fd,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.readLoop()
	return n, nil
}

func (n *Netlink) Events() <-chan Event {
	return n.events
}

func (n *Netlink) readLoop() {
	defer n.wg.Done()
	defer close(n.events)

	buf := make([]byte, ueventBufSize)
	for {
		select {
		case <-n.done:
			return
		default:
		}

		sz, from, err := unix.Recvfrom(n.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ENOBUFS) {
				logger.Log.Warnf("hotplug: uevent queue overflowed, events lost")
				continue
			}
			logger.Log.Errorf("hotplug: netlink receive failed: %v", err)
			return
		}
		if sa, ok := from.(*unix.SockaddrNetlink); ok && sa.Pid != 0 {
			continue
		}

		ev, err := Decode(buf[:sz])
		if err != nil {
			continue
		}
		select {
		case n.events <- ev:
		case <-n.done:
			return
		}
	}
}

func (n *Netlink) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		n.wg.Wait()
		err = unix.Close(n.fd)
	})
	return err
}
