//go:build !linux

package hotplug

type Netlink struct{}

func OpenNetlink(buffer int) (*Netlink, error) {
	return nil, ErrUnavailable
}

func (n *Netlink) Events() <-chan Event {
	return nil
}

func (n *Netlink) Close() error {
	return nil
}
