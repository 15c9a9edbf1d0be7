// Package identity maps USB vendor/product ids and bus drivers to the modem
// family whose port classification rule applies.
package identity

import "strings"

// Entry is one row of the identity table. Vendor and Product are lower-case
// four-digit hex strings; an empty Vendor means the row matches on the bus
// driver alone, an empty Product matches any product of the vendor.
type Entry struct {
	Family  string `json:"family"`
	Driver  string `json:"driver"`
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product,omitempty"`
}

type Table []Entry

// Default is the table of supported modems.
var Default = Table{
	{Family: "isiusb", Driver: "cdc_phonet"},
	{Family: "linktop", Driver: "cdc_acm", Vendor: "230d"},
	{Family: "icera", Driver: "cdc_acm", Vendor: "19d2"},
	{Family: "icera", Driver: "cdc_ether", Vendor: "19d2"},
	{Family: "icera", Driver: "cdc_acm", Vendor: "04e8", Product: "6872"},
	{Family: "icera", Driver: "cdc_ether", Vendor: "04e8", Product: "6872"},
	{Family: "icera", Driver: "cdc_acm", Vendor: "0421", Product: "0633"},
	{Family: "icera", Driver: "cdc_ether", Vendor: "0421", Product: "0633"},
	{Family: "mbm", Driver: "cdc_acm", Vendor: "0bdb"},
	{Family: "mbm", Driver: "cdc_ether", Vendor: "0bdb"},
	{Family: "mbm", Driver: "cdc_acm", Vendor: "0fce"},
	{Family: "mbm", Driver: "cdc_ether", Vendor: "0fce"},
	{Family: "mbm", Driver: "cdc_acm", Vendor: "413c"},
	{Family: "mbm", Driver: "cdc_ether", Vendor: "413c"},
	{Family: "mbm", Driver: "cdc_acm", Vendor: "03f0"},
	{Family: "mbm", Driver: "cdc_ether", Vendor: "03f0"},
	{Family: "mbm", Driver: "cdc_acm", Vendor: "0930"},
	{Family: "mbm", Driver: "cdc_ether", Vendor: "0930"},
	{Family: "hso", Driver: "hso"},
	{Family: "gobi", Driver: "qmi_wwan"},
	{Family: "gobi", Driver: "qcserial"},
	{Family: "sierra", Driver: "sierra"},
	{Family: "sierra", Driver: "sierra_net"},
	{Family: "option", Driver: "option", Vendor: "0af0"},
	{Family: "huawei", Driver: "option", Vendor: "201e"},
	{Family: "huawei", Driver: "cdc_wdm", Vendor: "12d1"},
	{Family: "huawei", Driver: "cdc_ether", Vendor: "12d1"},
	{Family: "huawei", Driver: "qmi_wwan", Vendor: "12d1"},
	{Family: "huawei", Driver: "option", Vendor: "12d1"},
	{Family: "speedupcdma", Driver: "option", Vendor: "1c9e", Product: "9e00"},
	{Family: "speedup", Driver: "option", Vendor: "1c9e"},
	{Family: "speedup", Driver: "option", Vendor: "2020"},
	{Family: "alcatel", Driver: "option", Vendor: "1bbb", Product: "0017"},
	{Family: "novatel", Driver: "option", Vendor: "1410"},
	{Family: "zte", Driver: "option", Vendor: "19d2"},
	{Family: "simcom", Driver: "option", Vendor: "05c6", Product: "9000"},
	{Family: "telit", Driver: "usbserial", Vendor: "1bc7"},
	{Family: "ge910", Driver: "cdc_acm", Vendor: "1bc7", Product: "0022"},
	{Family: "telit", Driver: "option", Vendor: "1bc7"},
	{Family: "he910", Driver: "cdc_acm", Vendor: "1bc7", Product: "0021"},
	{Family: "nokia", Driver: "option", Vendor: "0421", Product: "060e"},
	{Family: "nokia", Driver: "option", Vendor: "0421", Product: "0623"},
	{Family: "samsung", Driver: "option", Vendor: "04e8", Product: "6889"},
	{Family: "samsung", Driver: "kalmia"},
	{Family: "quectel", Driver: "option", Vendor: "05c6", Product: "9090"},
	{Family: "ublox", Driver: "cdc_acm", Vendor: "1546", Product: "1102"},
}

// Normalize lower-cases and trims an id read from sysfs.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// KnownVendor reports whether any row carries the vendor id. It gates the
// rest of the scan: most idVendor files under /sys are not modems.
func (t Table) KnownVendor(vendor string) bool {
	vendor = Normalize(vendor)
	if vendor == "" {
		return false
	}
	for _, e := range t {
		if e.Vendor == vendor {
			return true
		}
	}
	return false
}

// KnownDriver reports whether a driver-only row exists for the driver.
func (t Table) KnownDriver(driver string) bool {
	for _, e := range t {
		if e.Vendor == "" && e.Driver == driver {
			return true
		}
	}
	return false
}

const (
	rankNone = iota
	rankDriver
	rankVendor
	rankProduct
)

// Lookup returns the most specific row for the device: vendor and product
// beat vendor alone, which beats a driver-only row. When drivers is
// non-empty a row only matches if its bus driver is one of them; with no
// driver information the driver column is ignored and driver-only rows
// cannot match. Ties keep table order.
func (t Table) Lookup(vendor, product string, drivers []string) (Entry, bool) {
	vendor = Normalize(vendor)
	product = Normalize(product)

	best, bestRank := Entry{}, rankNone
	for _, e := range t {
		if len(drivers) > 0 && !contains(drivers, e.Driver) {
			continue
		}
		rank := rankNone
		switch {
		case e.Vendor == "":
			if len(drivers) > 0 {
				rank = rankDriver
			}
		case e.Vendor != vendor:
		case e.Product == "":
			rank = rankVendor
		case e.Product == product:
			rank = rankProduct
		}
		if rank > bestRank {
			best, bestRank = e, rank
		}
	}
	return best, bestRank != rankNone
}

// Families lists the distinct family names in table order.
func (t Table) Families() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t {
		if !seen[e.Family] {
			seen[e.Family] = true
			out = append(out, e.Family)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
