// Command invctl is the operator CLI for the device intake queue and the
// inventory archive.
package main

import (
	"os"

	"github.com/tbourn/device-intake/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.RootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
