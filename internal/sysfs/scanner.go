package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pccr10001/modemd/internal/classify"
	"github.com/pccr10001/modemd/internal/identity"
	"github.com/pccr10001/modemd/pkg/logger"
)

// ErrNotFound is returned by Identify when no supported modem is attached.
var ErrNotFound = errors.New("no supported modem found")

// Label pins an upstream label on one interface of a device.
type Label struct {
	Vendor    string
	Product   string
	Interface string
	Label     string
}

// Describer looks up a human-readable name from USB descriptors when sysfs
// has no manufacturer/product strings.
type Describer interface {
	Describe(vendor, product string, bus, addr int) (string, error)
}

// Identity is the outcome of the identity pass.
type Identity struct {
	Root    string   `json:"root"`
	Name    string   `json:"name"`
	Vendor  string   `json:"vendor"`
	Product string   `json:"product"`
	Family  string   `json:"family"`
	Driver  string   `json:"driver"`
	Drivers []string `json:"drivers,omitempty"`
	BusAddr string   `json:"bus_addr,omitempty"`
}

type Scanner struct {
	SysRoot     string
	DevRoot     string
	MaxDepth    int
	TTYPrefixes []string
	Labels      []Label
	Table       identity.Table
	Describer   Describer
}

// NewScanner returns a scanner over the given roots with the default table.
func NewScanner(sysRoot, devRoot string) *Scanner {
	return &Scanner{
		SysRoot:     sysRoot,
		DevRoot:     devRoot,
		MaxDepth:    DefaultMaxDepth,
		TTYPrefixes: []string{"ttyACM", "ttyUSB", "ttyHS"},
		Table:       identity.Default,
	}
}

// DevicesRoot is where the identity pass starts.
func (s *Scanner) DevicesRoot() string {
	return filepath.Join(s.SysRoot, "devices")
}

// Identify walks the device tree for the first USB device whose ids resolve
// to a supported family. Devices whose vendor is known but whose product
// does not resolve are skipped without looking at their interfaces.
func (s *Scanner) Identify() (Identity, error) {
	for e := range Walk(s.DevicesRoot(), s.MaxDepth) {
		if e.Name != "idVendor" || e.Dir {
			continue
		}
		id, ok := s.identifyAt(filepath.Dir(e.Path))
		if ok {
			return id, nil
		}
	}
	return Identity{}, ErrNotFound
}

func (s *Scanner) identifyAt(root string) (Identity, bool) {
	vendor, err := ReadAttr(filepath.Join(root, "idVendor"))
	if err != nil {
		logger.Log.Debugf("sysfs: read idVendor under %s: %v", root, err)
		return Identity{}, false
	}
	vendor = identity.Normalize(vendor)

	drivers := interfaceDrivers(root)
	if !s.Table.KnownVendor(vendor) && !s.anyKnownDriver(drivers) {
		return Identity{}, false
	}

	product, err := ReadAttr(filepath.Join(root, "idProduct"))
	if err != nil {
		logger.Log.Debugf("sysfs: read idProduct under %s: %v", root, err)
		return Identity{}, false
	}
	product = identity.Normalize(product)

	entry, ok := s.Table.Lookup(vendor, product, drivers)
	if !ok {
		logger.Log.Debugf("sysfs: %s:%s at %s is not a supported modem", vendor, product, root)
		return Identity{}, false
	}

	id := Identity{
		Root:    root,
		Vendor:  vendor,
		Product: product,
		Family:  entry.Family,
		Driver:  entry.Driver,
		Drivers: drivers,
	}
	bus, dev := busNumbers(root)
	if bus > 0 && dev > 0 {
		id.BusAddr = fmt.Sprintf("%s/bus/usb/%03d/%03d", s.DevRoot, bus, dev)
	}
	id.Name = s.deviceName(root, vendor, product, bus, dev)
	return id, true
}

func (s *Scanner) anyKnownDriver(drivers []string) bool {
	for _, d := range drivers {
		if s.Table.KnownDriver(d) {
			return true
		}
	}
	return false
}

func (s *Scanner) deviceName(root, vendor, product string, bus, dev int) string {
	var parts []string
	for _, attr := range []string{"manufacturer", "product"} {
		if v, err := ReadAttr(filepath.Join(root, attr)); err == nil && v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if s.Describer != nil && bus > 0 {
		if name, err := s.Describer.Describe(vendor, product, bus, dev); err == nil && name != "" {
			return name
		} else if err != nil {
			logger.Log.Debugf("sysfs: usb descriptor lookup for %s:%s: %v", vendor, product, err)
		}
	}
	return vendor + ":" + product
}

// interfaceDrivers lists the drivers bound to the device's interfaces, in
// directory order, without duplicates.
func interfaceDrivers(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, de := range entries {
		dir := filepath.Join(root, de.Name())
		if _, err := os.Stat(filepath.Join(dir, "bInterfaceNumber")); err != nil {
			continue
		}
		d := linkBase(filepath.Join(dir, "driver"))
		if d == "" || containsString(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// busNumbers reads busnum and devnum. Older kernels lack busnum, in which
// case the bus is taken from the device directory name ("2-1.4" is on bus 2).
func busNumbers(root string) (bus, dev int) {
	if v, err := ReadAttr(filepath.Join(root, "busnum")); err == nil {
		bus, _ = strconv.Atoi(v)
	}
	if bus <= 0 {
		name := filepath.Base(root)
		if i := strings.IndexByte(name, '-'); i > 0 {
			bus, _ = strconv.Atoi(name[:i])
		}
	}
	if v, err := ReadAttr(filepath.Join(root, "devnum")); err == nil {
		dev, _ = strconv.Atoi(v)
	}
	return bus, dev
}

// Enumerate walks the modem's subtree and collects every tty, network and
// usbmisc node with the attributes of the interface that exposes it. A node
// whose attributes cannot be read is skipped.
func (s *Scanner) Enumerate(id Identity) (*classify.Set, error) {
	if _, err := os.Stat(id.Root); err != nil {
		return nil, fmt.Errorf("modem root %s: %w", id.Root, err)
	}

	set := classify.NewSet()
	for e := range Walk(id.Root, s.MaxDepth) {
		if !e.Dir || e.Link {
			continue
		}
		sub, ok := s.nodeSubsystem(e)
		if !ok {
			continue
		}
		it, err := s.readInterface(id, e, sub)
		if err != nil {
			logger.Log.Debugf("sysfs: skip %s: %v", e.Path, err)
			continue
		}
		if !set.Insert(it) {
			logger.Log.Debugf("sysfs: duplicate interface %s at %s", it.Key(), e.Path)
		}
	}
	return set, nil
}

func (s *Scanner) nodeSubsystem(e Entry) (classify.Subsystem, bool) {
	switch e.Parent() {
	case "tty":
		for _, p := range s.TTYPrefixes {
			if strings.HasPrefix(e.Name, p) {
				return classify.SubsystemTTY, true
			}
		}
	case "net":
		return classify.SubsystemNet, true
	case "usbmisc":
		if strings.HasPrefix(e.Name, "cdc-wdm") {
			return classify.SubsystemUSBMisc, true
		}
	}
	return "", false
}

func (s *Scanner) readInterface(id Identity, e Entry, sub classify.Subsystem) (classify.Interface, error) {
	ifaceDir, ok := owningInterface(e.Path, id.Root)
	if !ok {
		return classify.Interface{}, errors.New("no owning usb interface")
	}
	num, err := ReadAttr(filepath.Join(ifaceDir, "bInterfaceNumber"))
	if err != nil {
		return classify.Interface{}, err
	}

	it := classify.Interface{
		Devpath:   e.Path,
		Name:      e.Name,
		Subsystem: sub,
		Number:    strings.ToLower(num),
		Class:     interfaceClass(ifaceDir),
		Driver:    linkBase(filepath.Join(ifaceDir, "driver")),
		Attrs:     make(map[string]string),
	}
	if sub == classify.SubsystemNet {
		it.DevNode = e.Name
	} else {
		it.DevNode = filepath.Join(s.DevRoot, e.Name)
	}

	if v, err := ReadAttr(filepath.Join(ifaceDir, "interface")); err == nil {
		it.Attrs[classify.AttrInterface] = v
	}
	for _, attr := range []string{classify.AttrType, classify.AttrHSOType} {
		if v, err := ReadAttr(filepath.Join(e.Path, attr)); err == nil {
			it.Attrs[attr] = v
		}
	}
	it.Label = s.label(id, it.Number)
	return it, nil
}

// owningInterface climbs from a node directory to the USB interface
// directory above it, never leaving the modem's root.
func owningInterface(path, root string) (string, bool) {
	for dir := filepath.Dir(path); strings.HasPrefix(dir, root) && dir != root; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "bInterfaceNumber")); err == nil {
			return dir, true
		}
	}
	return "", false
}

// interfaceClass renders the interface's class, subclass and protocol in
// decimal, e.g. "255/255/255". It is empty when any of them is unreadable.
func interfaceClass(dir string) string {
	var parts [3]string
	for i, attr := range []string{"bInterfaceClass", "bInterfaceSubClass", "bInterfaceProtocol"} {
		v, err := ReadAttr(filepath.Join(dir, attr))
		if err != nil {
			return ""
		}
		n, err := strconv.ParseUint(v, 16, 8)
		if err != nil {
			return ""
		}
		parts[i] = strconv.FormatUint(n, 10)
	}
	return strings.Join(parts[:], "/")
}

func (s *Scanner) label(id Identity, number string) string {
	for _, l := range s.Labels {
		if identity.Normalize(l.Vendor) != id.Vendor {
			continue
		}
		if l.Product != "" && identity.Normalize(l.Product) != id.Product {
			continue
		}
		if strings.EqualFold(l.Interface, number) {
			return l.Label
		}
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
