package main

import (
	"os"

	"github.com/pccr10001/modemd/cmd"
)

func main() {
	if err := cmd.CMD.Execute(); err != nil {
		os.Exit(1)
	}
}
