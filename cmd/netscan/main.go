// Command netscan is a one-shot network reconnaissance tool: given an IPv4
// target or CIDR block, it runs a ping sweep, optional TCP/UDP port scans,
// service detection, and host fingerprinting, then prints a summary table
// and exits (spec §1).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"

	_ "github.com/xuoxod/netscan/internal/backend/arp"
	_ "github.com/xuoxod/netscan/internal/backend/icmp"
	"github.com/xuoxod/netscan/internal/config"
	"github.com/xuoxod/netscan/internal/gate"
	"github.com/xuoxod/netscan/internal/msf"
	"github.com/xuoxod/netscan/internal/pipeline"
	"github.com/xuoxod/netscan/internal/privsep"
	"github.com/xuoxod/netscan/internal/probe"
	"github.com/xuoxod/netscan/internal/report"
	"github.com/xuoxod/netscan/internal/target"
)

// Flags, built with pflag the same way graphping.go's main does.
var (
	ipFlag        = pflag.StringP("ip", "i", "", "Target IPv4 address or CIDR block.")
	portsFlag     = pflag.StringP("ports", "p", "", "Comma-separated port list/ranges, e.g. 22,80,1000-1010.")
	protocolsFlag = probe.FlagP("protocols", "r", "Comma-separated protocol list for service detection.")

	tcpScan          = pflag.Bool("tcpscan", false, "Run the TCP port scan stage.")
	udpScan          = pflag.Bool("udpscan", false, "Run the UDP port scan stage.")
	serviceDetection = pflag.Bool("service-detection", false, "Run the service detection stage.")
	fingerprintFlag  = pflag.Bool("fingerprint", false, "Run the host fingerprint stage.")

	verbose    = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	reportFlag = pflag.String("report", "", "Path to write the CSV failure summary; empty disables the report.")
	jsonFlag   = pflag.Bool("json", false, "Also print the Metasploit module-suggestion table as JSON.")
)

func main() {
	privsepCleanup := privsep.Initialize()
	defer privsepCleanup()

	pflag.Parse()

	if !*verbose {
		log.SetOutput(io.Discard)
	}

	cfg := config.Config{
		Target:           *ipFlag,
		TCPScan:          *tcpScan,
		UDPScan:          *udpScan,
		ServiceDetection: *serviceDetection,
		Fingerprint:      *fingerprintFlag,
		Verbose:          *verbose,
		ReportPath:       *reportFlag,
		Protocols:        []probe.Protocol(*protocolsFlag),
	}

	if *portsFlag != "" {
		ports, err := target.ParsePortRanges(*portsFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --ports: %v\n", err)
			os.Exit(1)
		}
		cfg.Ports = ports
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	g := gate.New(gate.DefaultCapacity)
	tcpGate := gate.New(gate.TCPCapacity)

	res, err := pipeline.Run(context.Background(), cfg, g, tcpGate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	printTable(res)

	if cfg.ReportPath != "" {
		if err := writeReport(cfg, res); err != nil {
			log.Printf("Error writing report: %v", err)
		}
	}

	if *jsonFlag {
		if err := printModuleSuggestions(res); err != nil {
			log.Printf("Error printing module suggestions: %v", err)
		}
	}

	os.Exit(0)
}

// printTable renders the human-readable summary of spec §1/§6: one row per
// live host, its open ports, and identified services.
func printTable(res pipeline.Result) {
	hosts := make([]string, 0, len(res.PingSweep.Live))
	for _, h := range res.PingSweep.Live {
		hosts = append(hosts, h.IP.String())
	}
	sort.Strings(hosts)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Host", "TTL", "Open Ports", "Services", "OS Guess", "MAC"})

	ttlByHost := make(map[string]int)
	for _, h := range res.PingSweep.Live {
		ttlByHost[h.IP.String()] = h.TTL
	}

	for _, host := range hosts {
		table.Append([]string{
			host,
			fmt.Sprintf("%d", ttlByHost[host]),
			openPortsFor(res, host),
			servicesFor(res, host),
			osGuessFor(res, host),
			macFor(res, host),
		})
	}
	table.Render()
}

func openPortsFor(res pipeline.Result, host string) string {
	var ports []string
	for _, p := range res.TCP.Open {
		if p.IP.String() == host {
			ports = append(ports, fmt.Sprintf("%d/tcp", p.Port))
		}
	}
	for _, p := range res.UDP.Open {
		if p.IP.String() == host {
			ports = append(ports, fmt.Sprintf("%d/udp", p.Port))
		}
	}
	if len(ports) == 0 {
		return "-"
	}
	return joinSorted(ports)
}

func servicesFor(res pipeline.Result, host string) string {
	results, ok := res.Services[host]
	if !ok || len(results) == 0 {
		return "-"
	}
	var parts []string
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%d:%s", r.Port, r.Service))
	}
	return joinSorted(parts)
}

func osGuessFor(res pipeline.Result, host string) string {
	fp, ok := res.Fingerprints[host]
	if !ok || fp.OS == "" {
		return "-"
	}
	return fp.OS
}

func macFor(res pipeline.Result, host string) string {
	fp, ok := res.Fingerprints[host]
	if !ok || fp.MAC == nil {
		return "-"
	}
	return fp.MAC.String()
}

func joinSorted(parts []string) string {
	sort.Strings(parts)
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

// writeReport assembles the CSV summary of spec §6 and writes it to
// cfg.ReportPath, one row per (host, protocol) with any detection failures.
func writeReport(cfg config.Config, res pipeline.Result) error {
	f, err := os.Create(cfg.ReportPath)
	if err != nil {
		return fmt.Errorf("create report file: %v", err)
	}
	defer f.Close()

	now := time.Now()
	var rows []report.Row
	for host, results := range res.Services {
		ip := hostIP(res, host)
		rows = append(rows, report.Rows(ip, now, results)...)
	}
	return report.Write(f, rows)
}

func hostIP(res pipeline.Result, host string) net.IP {
	for _, h := range res.PingSweep.Live {
		if h.IP.String() == host {
			return h.IP
		}
	}
	return nil
}

// printModuleSuggestions prints the optional JSON array of {port, service,
// module} objects named in spec §6.
func printModuleSuggestions(res pipeline.Result) error {
	var services []msf.ServiceInfo
	for _, results := range res.Services {
		for _, r := range results {
			services = append(services, msf.ServiceInfo{Port: r.Port, Service: r.Service})
		}
	}
	suggestions := msf.Suggest(services)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(suggestions)
}
