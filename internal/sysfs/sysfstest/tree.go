// Package sysfstest builds fake sysfs and /dev trees for tests.
package sysfstest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

type Tree struct {
	t   testing.TB
	Sys string
	Dev string
}

func New(t testing.TB) *Tree {
	t.Helper()
	root := t.TempDir()
	tr := &Tree{t: t, Sys: filepath.Join(root, "sys"), Dev: filepath.Join(root, "dev")}
	tr.mkdir(filepath.Join(tr.Sys, "devices"))
	tr.mkdir(tr.Dev)
	return tr
}

func (tr *Tree) mkdir(path string) {
	tr.t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		tr.t.Fatal(err)
	}
}

// Write creates path (and its parents) holding content plus a newline, the
// way sysfs attributes read back.
func (tr *Tree) Write(path, content string) {
	tr.t.Helper()
	tr.mkdir(filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		tr.t.Fatal(err)
	}
}

// Node creates the /dev entry for name.
func (tr *Tree) Node(name string) string {
	tr.t.Helper()
	p := filepath.Join(tr.Dev, name)
	if err := os.WriteFile(p, nil, 0o600); err != nil {
		tr.t.Fatal(err)
	}
	return p
}

// RemoveNode deletes the /dev entry for name.
func (tr *Tree) RemoveNode(name string) {
	tr.t.Helper()
	if err := os.Remove(filepath.Join(tr.Dev, name)); err != nil {
		tr.t.Fatal(err)
	}
}

type Device struct {
	tree *Tree
	Path string
	Name string
}

// Device creates a USB device directory named like "1-1" on the given bus
// with its id attributes. Empty vendor or product leaves the file out, as
// when the kernel has not populated it yet.
func (tr *Tree) Device(name, vendor, product string, bus, dev int) *Device {
	tr.t.Helper()
	p := filepath.Join(tr.Sys, "devices", "pci0000:00", "0000:00:14.0", fmt.Sprintf("usb%d", bus), name)
	tr.mkdir(p)
	if vendor != "" {
		tr.Write(filepath.Join(p, "idVendor"), vendor)
	}
	if product != "" {
		tr.Write(filepath.Join(p, "idProduct"), product)
	}
	tr.Write(filepath.Join(p, "busnum"), strconv.Itoa(bus))
	tr.Write(filepath.Join(p, "devnum"), strconv.Itoa(dev))
	return &Device{tree: tr, Path: p, Name: name}
}

// Hub adds the root hub attributes for the device's bus so walks see a
// non-modem idVendor first.
func (tr *Tree) Hub(bus int) {
	p := filepath.Join(tr.Sys, "devices", "pci0000:00", "0000:00:14.0", fmt.Sprintf("usb%d", bus))
	tr.Write(filepath.Join(p, "idVendor"), "1d6b")
	tr.Write(filepath.Join(p, "idProduct"), "0002")
}

// Subpath is the device path as it appears in a uevent.
func (d *Device) Subpath() string {
	rel, _ := filepath.Rel(d.tree.Sys, d.Path)
	return "/" + filepath.ToSlash(rel)
}

func (d *Device) Strings(manufacturer, product string) {
	d.tree.Write(filepath.Join(d.Path, "manufacturer"), manufacturer)
	d.tree.Write(filepath.Join(d.Path, "product"), product)
}

// Interface creates the interface directory for the hex interface number
// with the given class triple and bound driver.
func (d *Device) Interface(num string, class, subclass, protocol int, driver string) string {
	d.tree.t.Helper()
	n, err := strconv.ParseUint(num, 16, 8)
	if err != nil {
		d.tree.t.Fatal(err)
	}
	p := filepath.Join(d.Path, fmt.Sprintf("%s:1.%d", d.Name, n))
	d.tree.Write(filepath.Join(p, "bInterfaceNumber"), num)
	d.tree.Write(filepath.Join(p, "bInterfaceClass"), fmt.Sprintf("%02x", class))
	d.tree.Write(filepath.Join(p, "bInterfaceSubClass"), fmt.Sprintf("%02x", subclass))
	d.tree.Write(filepath.Join(p, "bInterfaceProtocol"), fmt.Sprintf("%02x", protocol))
	if driver != "" {
		if err := os.Symlink("../../../../../bus/usb/drivers/"+driver, filepath.Join(p, "driver")); err != nil {
			d.tree.t.Fatal(err)
		}
	}
	return p
}

func (d *Device) ifaceDir(num string) string {
	n, _ := strconv.ParseUint(num, 16, 8)
	return filepath.Join(d.Path, fmt.Sprintf("%s:1.%d", d.Name, n))
}

// TTY adds a tty class node under the interface and returns its directory.
func (d *Device) TTY(num, node string) string {
	p := filepath.Join(d.ifaceDir(num), "tty", node)
	d.tree.mkdir(p)
	return p
}

func (d *Device) Net(num, ifname string) string {
	p := filepath.Join(d.ifaceDir(num), "net", ifname)
	d.tree.mkdir(p)
	return p
}

func (d *Device) USBMisc(num, node string) string {
	p := filepath.Join(d.ifaceDir(num), "usbmisc", node)
	d.tree.mkdir(p)
	return p
}

// Remove deletes the device subtree, as the kernel does on unplug.
func (d *Device) Remove() {
	d.tree.t.Helper()
	if err := os.RemoveAll(d.Path); err != nil {
		d.tree.t.Fatal(err)
	}
}
