package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		vendor  string
		product string
		drivers []string
		family  string
		found   bool
	}{
		{name: "product specific he910", vendor: "1bc7", product: "0021", family: "he910", found: true},
		{name: "product specific ge910", vendor: "1bc7", product: "0022", family: "ge910", found: true},
		{name: "vendor only fallback", vendor: "1bc7", product: "1201", family: "telit", found: true},
		{name: "vendor only honours driver", vendor: "1bc7", product: "1201", drivers: []string{"option"}, family: "telit", found: true},
		{name: "unknown product on cdc_acm", vendor: "1bc7", product: "0099", drivers: []string{"cdc_acm"}, found: false},
		{name: "upper case ids", vendor: "1BC7", product: "0021\n", family: "he910", found: true},
		{name: "speedupcdma beats speedup", vendor: "1c9e", product: "9e00", family: "speedupcdma", found: true},
		{name: "speedup vendor row", vendor: "1c9e", product: "6061", family: "speedup", found: true},
		{name: "icera before zte on shared vendor", vendor: "19d2", product: "0031", family: "icera", found: true},
		{name: "zte via option driver", vendor: "19d2", product: "0031", drivers: []string{"option"}, family: "zte", found: true},
		{name: "driver only row", vendor: "1199", product: "68a3", drivers: []string{"qcserial"}, family: "gobi", found: true},
		{name: "driver only needs drivers", vendor: "1199", product: "68a3", found: false},
		{name: "unknown vendor", vendor: "dead", product: "beef", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := Default.Lookup(tt.vendor, tt.product, tt.drivers)
			require.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.family, e.Family)
			}
		})
	}
}

func TestLookupSameVendorDifferentProducts(t *testing.T) {
	a, ok := Default.Lookup("1bc7", "0021", nil)
	require.True(t, ok)
	b, ok := Default.Lookup("1bc7", "0022", nil)
	require.True(t, ok)
	assert.NotEqual(t, a.Family, b.Family)

	tbl := Table{
		{Family: "generic", Driver: "option", Vendor: "aaaa"},
		{Family: "special", Driver: "option", Vendor: "aaaa", Product: "0001"},
	}
	e, ok := tbl.Lookup("aaaa", "0001", nil)
	require.True(t, ok)
	assert.Equal(t, "special", e.Family)
	e, ok = tbl.Lookup("aaaa", "0002", nil)
	require.True(t, ok)
	assert.Equal(t, "generic", e.Family)
}

func TestKnownVendor(t *testing.T) {
	assert.True(t, Default.KnownVendor("1bc7"))
	assert.True(t, Default.KnownVendor(" 12D1\n"))
	assert.False(t, Default.KnownVendor("8087"))
	assert.False(t, Default.KnownVendor(""))
	assert.True(t, Default.KnownDriver("qmi_wwan"))
	assert.False(t, Default.KnownDriver("cdc_acm"))
}

func TestFamilies(t *testing.T) {
	fams := Default.Families()
	assert.Equal(t, "isiusb", fams[0])
	assert.Len(t, fams, 22)
	assert.Contains(t, fams, "he910")
}
