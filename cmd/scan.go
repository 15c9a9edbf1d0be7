package cmd

import (
	"errors"
	"fmt"

	"github.com/pccr10001/modemd/internal/classify"
	"github.com/pccr10001/modemd/internal/config"
	"github.com/pccr10001/modemd/internal/sysfs"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "identify and classify the attached modem without registering it",
	RunE:  runScan,
}

func init() {
	CMD.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	scanner := newScanner(config.AppConfig.Detect)
	id, err := scanner.Identify()
	if errors.Is(err, sysfs.ErrNotFound) {
		fmt.Println("No supported modem found")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s:%s) family %s, driver %s\n", id.Name, id.Vendor, id.Product, id.Family, id.Driver)
	fmt.Printf("  path %s\n", id.Root)
	if id.BusAddr != "" {
		fmt.Printf("  bus  %s\n", id.BusAddr)
	}

	set, err := scanner.Enumerate(id)
	if err != nil {
		return err
	}
	fmt.Println()
	tbl := table.New("Interface", "Subsystem", "Class", "Driver", "Node", "Label")
	for _, it := range set.All() {
		tbl.AddRow(it.Number, it.Subsystem, it.Class, it.Driver, it.DevNode, it.Label)
	}
	tbl.Print()

	res, err := classify.Default().Classify(id.Family, id.Product, set)
	fmt.Println()
	if err != nil {
		fmt.Printf("Classification failed: %v\n", err)
		return nil
	}
	if res.Family != "" && res.Family != id.Family {
		fmt.Printf("Driver redirected to %s\n", res.Family)
	}
	roles := table.New("Property", "Value")
	for _, role := range res.Roles.Sorted() {
		roles.AddRow(role, res.Roles[role])
	}
	for name, value := range res.Properties {
		roles.AddRow(name, value)
	}
	roles.Print()
	return nil
}
