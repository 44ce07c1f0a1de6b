package main

import (
	"os"

	"github.com/aspen-pdp/aspen/cmd/aspenctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
