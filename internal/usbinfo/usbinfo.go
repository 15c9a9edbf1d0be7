//go:build !nousb

// Package usbinfo reads USB string descriptors through libusb.
package usbinfo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

// Describer opens the device at the given bus address and returns its
// manufacturer and product strings.
type Describer struct{}

func New() *Describer {
	return &Describer{}
}

func (d *Describer) Describe(vendorHex, productHex string, bus, addr int) (string, error) {
	vid, err := parseHexID(vendorHex)
	if err != nil {
		return "", fmt.Errorf("invalid vid: %w", err)
	}
	pid, err := parseHexID(productHex)
	if err != nil {
		return "", fmt.Errorf("invalid pid: %w", err)
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	opened, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid) &&
			desc.Bus == bus && desc.Address == addr
	})
	defer func() {
		for _, dev := range opened {
			_ = dev.Close()
		}
	}()
	if len(opened) == 0 {
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("usb device %04x:%04x not found on bus %d addr %d", vid, pid, bus, addr)
	}

	dev := opened[0]
	var parts []string
	if m, merr := dev.Manufacturer(); merr == nil && strings.TrimSpace(m) != "" {
		parts = append(parts, strings.TrimSpace(m))
	}
	if p, perr := dev.Product(); perr == nil && strings.TrimSpace(p) != "" {
		parts = append(parts, strings.TrimSpace(p))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%04X:0x%04X", vid, pid), nil
	}
	return strings.Join(parts, " "), nil
}

func parseHexID(v string) (uint16, error) {
	s := strings.TrimSpace(strings.ToLower(v))
	s = strings.TrimPrefix(s, "0x")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
