// transfer-sync keeps a local view of a transfer engine's upload and
// download queues consistent, and bundles a simulated engine to run it
// against.
package main

import (
	"os"

	"github.com/rescale/transfer-sync/internal/cli"
	"github.com/rescale/transfer-sync/internal/version"
)

// Set by ldflags:
//
//	go build -ldflags "-X main.Version=v0.3.0 -X main.BuildTime=$(date -u +%Y-%m-%d)"
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
