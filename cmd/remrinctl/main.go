// Remrinctl is the Remrin operator CLI.
package main

import (
	"os"

	"github.com/bdobrica/Remrin/internal/remrin/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
