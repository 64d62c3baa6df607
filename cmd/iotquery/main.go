package main

import (
	"os"

	"github.com/cyberinferno/iotquery/cmd/iotquery/cmd"
)

// Every user-facing ending exits 0. Only a transport fault in the middle of a
// session, or a bad flag or config, exits non-zero.
func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
