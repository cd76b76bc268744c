// Package config validates the combination-of-flags invariants of the
// pipeline driver (spec §4.10 step 4): a port set is required whenever any
// scan stage is selected, and service detection additionally requires a
// protocol list.
package config

import (
	"fmt"

	"github.com/xuoxod/netscan/internal/probe"
)

// Config is the validated set of options the driver runs with, assembled
// from CLI flags in cmd/netscan/main.go.
type Config struct {
	Target string
	Ports  []int

	Protocols []probe.Protocol

	TCPScan          bool
	UDPScan          bool
	ServiceDetection bool
	Fingerprint      bool

	Verbose bool

	ReportPath string
}

// Validate enforces spec §4.10's combination-of-flags invariants. It
// returns a descriptive error suitable for printing to stderr and exiting
// non-zero, matching how graphping.go's main validates pingInterval before
// constructing tui.Options.
func (c Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("-i/--ip is required")
	}

	anyScanStage := c.TCPScan || c.UDPScan || c.ServiceDetection || c.Fingerprint
	if anyScanStage && len(c.Ports) == 0 {
		return fmt.Errorf("-p/--ports is required when --tcpscan, --udpscan, --service-detection, or --fingerprint is set")
	}
	if c.ServiceDetection && len(c.Protocols) == 0 {
		return fmt.Errorf("-r/--protocols is required for --service-detection")
	}
	return nil
}
