package classify

import (
	"fmt"
	"sort"
	"strconv"
)

// Subsystem is the kernel class directory a device node was found under.
type Subsystem string

const (
	SubsystemTTY     Subsystem = "tty"
	SubsystemNet     Subsystem = "net"
	SubsystemUSBMisc Subsystem = "usbmisc"
)

// Well-known sysattr keys, relative to the device node directory.
const (
	AttrInterface = "device/interface"
	AttrType      = "type"
	AttrHSOType   = "hsotype"
)

// Interface describes one device node exposed by a USB interface of the
// modem. It is immutable once built by the scanner.
type Interface struct {
	Devpath   string            `json:"devpath"`
	Name      string            `json:"name"`
	DevNode   string            `json:"devnode,omitempty"`
	Subsystem Subsystem         `json:"subsystem"`
	Class     string            `json:"class"`  // "class/subclass/protocol", decimal
	Number    string            `json:"number"` // bInterfaceNumber as read, two hex digits
	Driver    string            `json:"driver,omitempty"`
	Label     string            `json:"label,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Attr returns the sysattr value read for key, or "".
func (i Interface) Attr(key string) string {
	return i.Attrs[key]
}

// HasAttr reports whether the sysattr was present when the interface was read.
func (i Interface) HasAttr(key string) bool {
	_, ok := i.Attrs[key]
	return ok
}

// NodePath is the filesystem path whose existence proves the node is live:
// the /dev entry for character devices, the sysfs directory for network
// interfaces (which have no /dev entry).
func (i Interface) NodePath() string {
	if i.Subsystem == SubsystemNet {
		return i.Devpath
	}
	return i.DevNode
}

// Index is the numeric interface index, or -1 when Number is not hex.
func (i Interface) Index() int {
	n, err := strconv.ParseUint(i.Number, 16, 8)
	if err != nil {
		return -1
	}
	return int(n)
}

// Key identifies an interface inside a Set. A USB interface can carry more
// than one node kind (qmi_wwan exposes both a net and a usbmisc node on the
// same interface number), so the subsystem is part of the key.
type Key struct {
	Index     int
	Subsystem Subsystem
}

func (k Key) String() string {
	return fmt.Sprintf("%02x/%s", k.Index, k.Subsystem)
}

func (i Interface) Key() Key {
	return Key{Index: i.Index(), Subsystem: i.Subsystem}
}

// Set holds a modem's interfaces ordered ascending by index. Inserting a key
// that is already present is ignored.
type Set struct {
	keys  []Key
	items map[Key]Interface
}

func NewSet(ifaces ...Interface) *Set {
	s := &Set{items: make(map[Key]Interface)}
	for _, it := range ifaces {
		s.Insert(it)
	}
	return s
}

// Insert adds the interface and reports whether it was new.
func (s *Set) Insert(it Interface) bool {
	if s.items == nil {
		s.items = make(map[Key]Interface)
	}
	k := it.Key()
	if _, dup := s.items[k]; dup {
		return false
	}
	s.items[k] = it

	pos := sort.Search(len(s.keys), func(n int) bool {
		return keyLess(k, s.keys[n])
	})
	s.keys = append(s.keys, Key{})
	copy(s.keys[pos+1:], s.keys[pos:])
	s.keys[pos] = k
	return true
}

func keyLess(a, b Key) bool {
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Subsystem < b.Subsystem
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// All returns the interfaces in index order.
func (s *Set) All() []Interface {
	if s == nil {
		return nil
	}
	out := make([]Interface, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.items[k])
	}
	return out
}

// Find returns the interface whose device node is node.
func (s *Set) Find(node string) (Interface, bool) {
	if s == nil {
		return Interface{}, false
	}
	for _, k := range s.keys {
		if it := s.items[k]; it.DevNode == node {
			return it, true
		}
	}
	return Interface{}, false
}

// Without returns a copy of the set minus the interface with the given key.
func (s *Set) Without(k Key) *Set {
	out := NewSet()
	for _, it := range s.All() {
		if it.Key() != k {
			out.Insert(it)
		}
	}
	return out
}
