package hotplug

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/pccr10001/modemd/pkg/logger"
)

// Devfs turns creation and removal of device nodes under /dev into hotplug
// events. It is a fallback for hosts where the uevent socket is not
// reachable, such as unprivileged containers with a bind-mounted /dev.
type Devfs struct {
	watcher  *fsnotify.Watcher
	prefixes []string
	events   chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// WatchDevfs watches root for nodes whose names start with one of prefixes.
func WatchDevfs(root string, prefixes []string, buffer int) (*Devfs, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: fsnotify: %v", ErrUnavailable, err)
	}
	if err := watcher.Add(root); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrUnavailable, root, err)
	}

	if buffer <= 0 {
		buffer = 64
	}
	d := &Devfs{
		watcher:  watcher,
		prefixes: prefixes,
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.loop()
	return d, nil
}

func (d *Devfs) Events() <-chan Event {
	return d.events
}

func (d *Devfs) loop() {
	defer d.wg.Done()
	defer close(d.events)

	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			ev, ok := d.translate(event)
			if !ok {
				continue
			}
			select {
			case d.events <- ev:
			case <-d.done:
				return
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			logger.Log.Errorf("hotplug: fsnotify error: %v", err)
		}
	}
}

func (d *Devfs) translate(event fsnotify.Event) (Event, bool) {
	name := filepath.Base(event.Name)
	sub := d.subsystem(name)
	if sub == "" {
		return Event{}, false
	}
	switch {
	case event.Op&fsnotify.Create != 0:
		return Event{Action: ActionAdd, Node: event.Name, Subsystem: sub}, true
	case event.Op&fsnotify.Remove != 0:
		return Event{Action: ActionRemove, Node: event.Name, Subsystem: sub}, true
	}
	return Event{}, false
}

func (d *Devfs) subsystem(name string) string {
	if strings.HasPrefix(name, "cdc-wdm") {
		return "usbmisc"
	}
	for _, p := range d.prefixes {
		if strings.HasPrefix(name, p) {
			return "tty"
		}
	}
	return ""
}

func (d *Devfs) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		err = d.watcher.Close()
		d.wg.Wait()
	})
	return err
}
