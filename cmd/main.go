package main

import (
	"os"

	"github.com/brettbedarf/ramfs/cmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
