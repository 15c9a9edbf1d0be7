// Package hotplug follows kernel device add/remove notifications and keeps
// the modem registry in step with them.
package hotplug

import (
	"bytes"
	"errors"
	"strings"
)

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

var (
	ErrMalformed   = errors.New("malformed uevent")
	ErrIgnored     = errors.New("uevent not relevant")
	ErrUnavailable = errors.New("hotplug notification channel unavailable")
)

// Event is a decoded hotplug notification. Netlink events carry Subpath,
// relative to the sysfs mount ("/devices/..."); devfs events carry Node.
type Event struct {
	Action    string
	Subpath   string
	Node      string
	Subsystem string
	Env       map[string]string
}

// Source delivers hotplug events until closed.
type Source interface {
	Events() <-chan Event
	Close() error
}

// relevantSubsystems are the path components that mark a modem node.
var relevantSubsystems = []string{"tty", "net", "hsi", "usbmisc"}

// Decode parses a kernel uevent: "action@subpath" followed by NUL (or
// newline) separated KEY=VALUE pairs. Messages from udev, messages without
// an action or path, and paths outside the tty, net, hsi and usbmisc
// classes are rejected.
func Decode(msg []byte) (Event, error) {
	fields := bytes.FieldsFunc(msg, func(r rune) bool { return r == 0 || r == '\n' })
	if len(fields) == 0 {
		return Event{}, ErrMalformed
	}

	head := string(fields[0])
	if strings.HasPrefix(head, "libudev") {
		return Event{}, ErrIgnored
	}
	action, subpath, ok := strings.Cut(head, "@")
	if !ok || action == "" || subpath == "" {
		return Event{}, ErrMalformed
	}

	ev := Event{Action: action, Subpath: subpath, Env: make(map[string]string)}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(string(f), "="); ok {
			ev.Env[k] = v
		}
	}

	ev.Subsystem = pathSubsystem(subpath)
	if ev.Subsystem == "" {
		return Event{}, ErrIgnored
	}
	return ev, nil
}

func pathSubsystem(subpath string) string {
	for _, part := range strings.Split(subpath, "/") {
		for _, s := range relevantSubsystems {
			if part == s {
				return s
			}
		}
	}
	return ""
}
