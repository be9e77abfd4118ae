// Package main provides the entry point for segment-cli.
package main

import (
	"os"

	"github.com/segmentcore/segmentcore/cmd/segment-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
