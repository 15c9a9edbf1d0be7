package sysfs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/modemd/internal/classify"
	"github.com/pccr10001/modemd/internal/sysfs"
	"github.com/pccr10001/modemd/internal/sysfs/sysfstest"
)

func he910(tr *sysfstest.Tree, product string) *sysfstest.Device {
	d := tr.Device("1-2", "1bc7", product, 1, 5)
	d.Strings("Telit", "6 CDC-ACM")
	for i, num := range []string{"00", "06", "0a"} {
		d.Interface(num, 2, 2, 1, "cdc_acm")
		d.TTY(num, "ttyACM"+string(rune('0'+i)))
	}
	d.Interface("02", 10, 0, 0, "cdc_acm")
	return d
}

func newScanner(tr *sysfstest.Tree) *sysfs.Scanner {
	return sysfs.NewScanner(tr.Sys, tr.Dev)
}

func TestIdentifyHE910(t *testing.T) {
	tr := sysfstest.New(t)
	tr.Hub(1)
	d := he910(tr, "0021")

	id, err := newScanner(tr).Identify()
	require.NoError(t, err)
	assert.Equal(t, d.Path, id.Root)
	assert.Equal(t, "he910", id.Family)
	assert.Equal(t, "cdc_acm", id.Driver)
	assert.Equal(t, "1bc7", id.Vendor)
	assert.Equal(t, "0021", id.Product)
	assert.Equal(t, "Telit 6 CDC-ACM", id.Name)
	assert.Equal(t, filepath.Join(tr.Dev, "bus/usb/001/005"), id.BusAddr)
}

func TestIdentifyUnknownProduct(t *testing.T) {
	tr := sysfstest.New(t)
	tr.Hub(1)
	he910(tr, "0099")

	_, err := newScanner(tr).Identify()
	assert.ErrorIs(t, err, sysfs.ErrNotFound)
}

func TestIdentifyUnpopulated(t *testing.T) {
	tr := sysfstest.New(t)
	tr.Device("1-2", "", "", 1, 5)

	_, err := newScanner(tr).Identify()
	assert.ErrorIs(t, err, sysfs.ErrNotFound)
}

func TestIdentifyDriverOnlyFamily(t *testing.T) {
	tr := sysfstest.New(t)
	d := tr.Device("2-1", "1199", "68a3", 2, 3)
	d.Interface("02", 255, 255, 255, "qcserial")

	id, err := newScanner(tr).Identify()
	require.NoError(t, err)
	assert.Equal(t, "gobi", id.Family)
	assert.Equal(t, "1199:68a3", id.Name)
}

func TestIdentifyBusFromDirectoryName(t *testing.T) {
	tr := sysfstest.New(t)
	d := he910(tr, "0021")
	tr.Write(filepath.Join(d.Path, "busnum"), "")

	id, err := newScanner(tr).Identify()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tr.Dev, "bus/usb/001/005"), id.BusAddr)
}

type fakeDescriber struct{ name string }

func (f fakeDescriber) Describe(vendor, product string, bus, addr int) (string, error) {
	return f.name, nil
}

func TestIdentifyUsesDescriber(t *testing.T) {
	tr := sysfstest.New(t)
	d := tr.Device("1-2", "1bc7", "0021", 1, 5)
	d.Interface("00", 2, 2, 1, "cdc_acm")

	s := newScanner(tr)
	s.Describer = fakeDescriber{name: "Telit HE910"}
	id, err := s.Identify()
	require.NoError(t, err)
	assert.Equal(t, "Telit HE910", id.Name)
}

func TestEnumerateHE910(t *testing.T) {
	tr := sysfstest.New(t)
	he910(tr, "0021")

	s := newScanner(tr)
	id, err := s.Identify()
	require.NoError(t, err)

	set, err := s.Enumerate(id)
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	all := set.All()
	assert.Equal(t, "00", all[0].Number)
	assert.Equal(t, "2/2/1", all[0].Class)
	assert.Equal(t, filepath.Join(tr.Dev, "ttyACM0"), all[0].DevNode)
	assert.Equal(t, classify.SubsystemTTY, all[0].Subsystem)
	assert.Equal(t, "cdc_acm", all[0].Driver)
	assert.Equal(t, "06", all[1].Number)
	assert.Equal(t, "0a", all[2].Number)
	assert.Equal(t, 10, all[2].Index())

	res, err := classify.Default().Classify(id.Family, id.Product, set)
	require.NoError(t, err)
	assert.Equal(t, classify.RoleMap{
		classify.RoleModem: filepath.Join(tr.Dev, "ttyACM0"),
		classify.RoleAux:   filepath.Join(tr.Dev, "ttyACM1"),
		classify.RoleGPS:   filepath.Join(tr.Dev, "ttyACM2"),
	}, res.Roles)
}

func TestEnumerateQMIAndAttrs(t *testing.T) {
	tr := sysfstest.New(t)
	d := tr.Device("1-3", "12d1", "1506", 1, 7)
	iface := d.Interface("00", 255, 1, 1, "option")
	tr.Write(filepath.Join(iface, "interface"), "Huawei Modem")
	d.TTY("00", "ttyUSB0")
	d.Interface("01", 255, 1, 2, "option")
	d.TTY("01", "ttyUSB1")
	d.Interface("04", 255, 1, 8, "qmi_wwan")
	d.Net("04", "wwan0")
	d.USBMisc("04", "cdc-wdm0")
	// a port directory without a tty class node is ignored
	d.TTY("01", "ptyp0")

	s := newScanner(tr)
	id, err := s.Identify()
	require.NoError(t, err)
	assert.Equal(t, "huawei", id.Family)

	set, err := s.Enumerate(id)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())

	modem, ok := set.Find(filepath.Join(tr.Dev, "ttyUSB0"))
	require.True(t, ok)
	assert.Equal(t, "Huawei Modem", modem.Attr(classify.AttrInterface))

	wwan, ok := set.Find("wwan0")
	require.True(t, ok)
	assert.Equal(t, classify.SubsystemNet, wwan.Subsystem)
	assert.Equal(t, wwan.Devpath, wwan.NodePath())

	_, ok = set.Find(filepath.Join(tr.Dev, "cdc-wdm0"))
	assert.True(t, ok)
}

func TestEnumerateLabels(t *testing.T) {
	tr := sysfstest.New(t)
	d := tr.Device("1-4", "1c9e", "6061", 1, 9)
	d.Interface("00", 255, 255, 255, "option")
	d.TTY("00", "ttyUSB0")
	d.Interface("02", 255, 255, 255, "option")
	d.TTY("02", "ttyUSB2")

	s := newScanner(tr)
	s.Labels = []sysfs.Label{
		{Vendor: "1C9E", Interface: "00", Label: "modem"},
		{Vendor: "1c9e", Product: "6061", Interface: "02", Label: "aux"},
		{Vendor: "1c9e", Product: "ffff", Interface: "00", Label: "diag"},
	}
	id, err := s.Identify()
	require.NoError(t, err)
	assert.Equal(t, "speedup", id.Family)

	set, err := s.Enumerate(id)
	require.NoError(t, err)
	all := set.All()
	require.Len(t, all, 2)
	assert.Equal(t, "modem", all[0].Label)
	assert.Equal(t, "aux", all[1].Label)
}

func TestEnumerateSkipsNodeWithoutInterface(t *testing.T) {
	tr := sysfstest.New(t)
	d := he910(tr, "0021")
	// tty node hanging directly off the device, outside any interface
	tr.Write(filepath.Join(d.Path, "tty", "ttyACM9", "dev"), "166:9")

	s := newScanner(tr)
	id, err := s.Identify()
	require.NoError(t, err)
	set, err := s.Enumerate(id)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
}

func TestEnumerateMissingRoot(t *testing.T) {
	tr := sysfstest.New(t)
	_, err := newScanner(tr).Enumerate(sysfs.Identity{Root: filepath.Join(tr.Sys, "devices", "gone")})
	assert.Error(t, err)
}

func TestWalkDepthBound(t *testing.T) {
	tr := sysfstest.New(t)
	deep := filepath.Join(tr.Sys, "a", "b", "c", "d")
	tr.Write(filepath.Join(deep, "leaf"), "x")

	var names []string
	for e := range sysfs.Walk(filepath.Join(tr.Sys, "a"), 2) {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"b", "c"}, names)

	var stopped int
	for range sysfs.Walk(filepath.Join(tr.Sys, "a"), 10) {
		stopped++
		break
	}
	assert.Equal(t, 1, stopped)
}
