package cmd

import (
	"strings"

	"github.com/pccr10001/modemd/internal/api"
	"github.com/pccr10001/modemd/internal/classify"
	"github.com/pccr10001/modemd/internal/identity"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

var familiesCmd = &cobra.Command{
	Use:   "families",
	Short: "print the supported modem families",
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl := table.New("Family", "Requires", "Devices")
		for _, f := range api.Families(identity.Default, classify.Default()) {
			var devs []string
			for _, e := range f.Devices {
				devs = append(devs, describeEntry(e))
			}
			tbl.AddRow(f.Family, f.Requires, strings.Join(devs, " "))
		}
		tbl.Print()
		return nil
	},
}

func init() {
	CMD.AddCommand(familiesCmd)
}

func describeEntry(e identity.Entry) string {
	switch {
	case e.Vendor == "":
		return e.Driver
	case e.Product == "":
		return e.Vendor + "/" + e.Driver
	}
	return e.Vendor + ":" + e.Product + "/" + e.Driver
}
