// Command axvault is the reference command-line client for AxiomVault
// stores. It keeps a vault in a local BadgerDB directory; every
// subcommand other than init unlocks the vault for the duration of one
// operation and locks it again before exiting.
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
