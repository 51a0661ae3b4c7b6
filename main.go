// Package main provides the entry point for the beacon agent.
package main

import (
	"os"

	"github.com/openkit-go/beacon-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
