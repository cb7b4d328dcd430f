// Command stash runs the background relay hub and talks to it from the
// command line.
//
// Usage:
//
//	# Run the hub with the keys declared in the config
//	stash serve --config stash.yaml
//
//	# Read and write a key through the hub
//	stash get preferences
//	stash set preferences '{"theme":"dark"}'
//
//	# Print every change to a key
//	stash watch preferences
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
