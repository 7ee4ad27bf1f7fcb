// torsentry - Tor traffic telemetry and tamper-evident anomaly evidence
package main

import "github.com/torsentry/torsentry/internal/cli"

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	cli.SetVersion(version)
	cli.Execute()
}
