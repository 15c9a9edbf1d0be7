//go:build nousb

package usbinfo

import "errors"

var errDisabled = errors.New("usb descriptor lookup disabled in this build")

type Describer struct{}

func New() *Describer {
	return &Describer{}
}

func (d *Describer) Describe(vendorHex, productHex string, bus, addr int) (string, error) {
	return "", errDisabled
}
