// Command locrit-memory inspects and drives the hybrid memory of one Locrit.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
