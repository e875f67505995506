package main

import (
	"os"

	"presip-lab/server/cmd/presiplab/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
