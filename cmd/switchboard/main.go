package main

import (
	"os"

	"github.com/lunaform/switchboard/cmd/switchboard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
