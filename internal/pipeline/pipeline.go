// Package pipeline implements the pipeline driver (C10, spec §4.10): the
// component that expands a target, always runs the ping sweep, and then
// fans out the requested scan stages over the live hosts, collecting every
// stage's results for the report collaborators.
package pipeline

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/xuoxod/netscan/internal/config"
	"github.com/xuoxod/netscan/internal/fingerprint"
	"github.com/xuoxod/netscan/internal/gate"
	"github.com/xuoxod/netscan/internal/probe"
	"github.com/xuoxod/netscan/internal/scan/ping"
	"github.com/xuoxod/netscan/internal/scan/tcp"
	"github.com/xuoxod/netscan/internal/scan/udp"
	"github.com/xuoxod/netscan/internal/service"
	"github.com/xuoxod/netscan/internal/target"
)

// Result is the collected outcome of one scan invocation, per spec §4.10
// step 6: every stage's results, ready to hand to the report/msf
// collaborators.
type Result struct {
	PingSweep ping.Result

	TCP tcp.Result
	UDP udp.Result

	// Services maps a live host to its per-port service-detection results,
	// sorted by port (spec §4.7: "the caller re-sorts by port if needed").
	Services map[string][]service.Result

	// Fingerprints maps a live host to its composed fingerprint.
	Fingerprints map[string]fingerprint.Host
}

// SelfFilter reports whether ip is a local interface address, used to skip
// self-scan per spec §4.10 step 3. It is a var so tests can stub it without
// depending on the host's real interface list.
var SelfFilter = isLocalAddress

// Run executes the full pipeline for cfg: expand the target, run the ping
// sweep, then the requested scan stages over the live set, bounded by the
// gates in g. Run never returns an error for ordinary scan conditions
// (negative results, per-target errors); it only returns an error for an
// invalid configuration (config.Validate, re-checked here defensively) or a
// target string that cannot be expanded into addresses.
func Run(ctx context.Context, cfg config.Config, g *gate.Gate, tcpGate *gate.Gate) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	addrs, err := target.Expand(cfg.Target)
	if err != nil {
		return Result{}, fmt.Errorf("expand target: %v", err)
	}

	addrs = filterSelf(addrs)

	sweep := ping.Sweep(ctx, addrs, g)

	res := Result{
		PingSweep:    sweep,
		Services:     make(map[string][]service.Result),
		Fingerprints: make(map[string]fingerprint.Host),
	}

	if len(sweep.Live) == 0 {
		return res, nil
	}

	liveIPs := make([]net.IP, len(sweep.Live))
	for i, h := range sweep.Live {
		liveIPs[i] = h.IP
	}

	if cfg.TCPScan {
		res.TCP = tcp.Scan(ctx, pairs(liveIPs, cfg.Ports, toTCPHostPort), tcpGate)
	}
	if cfg.UDPScan {
		res.UDP = udp.Scan(ctx, pairs(liveIPs, cfg.Ports, toUDPHostPort), g)
	}
	if cfg.ServiceDetection {
		res.Services = runServiceDetection(ctx, sweep.Live, cfg.Ports, cfg.Protocols, g)
	}
	if cfg.Fingerprint {
		res.Fingerprints = runFingerprints(ctx, sweep.Live, cfg.Ports, g)
	}

	return res, nil
}

func pairs[T any](ips []net.IP, ports []int, conv func(net.IP, int) T) []T {
	out := make([]T, 0, len(ips)*len(ports))
	for _, ip := range ips {
		for _, p := range ports {
			out = append(out, conv(ip, p))
		}
	}
	return out
}

func toTCPHostPort(ip net.IP, port int) tcp.HostPort { return tcp.HostPort{IP: ip, Port: port} }
func toUDPHostPort(ip net.IP, port int) udp.HostPort { return udp.HostPort{IP: ip, Port: port} }

// runServiceDetection runs the service detector for every live host's
// requested ports, concurrently across hosts and ports through g, per spec
// §4.7's "within one host, ports are probed in parallel".
func runServiceDetection(ctx context.Context, hosts []ping.LiveHost, ports []int, protos []probe.Protocol, g *gate.Gate) map[string][]service.Result {
	out := make(map[string][]service.Result, len(hosts))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, h := range hosts {
		for _, port := range ports {
			wg.Add(1)
			go func(ip net.IP, port int) {
				defer wg.Done()
				g.Acquire()
				defer g.Release()

				r := service.Detect(ctx, ip, port, protos)
				mu.Lock()
				out[ip.String()] = append(out[ip.String()], r)
				mu.Unlock()
			}(h.IP, port)
		}
	}
	wg.Wait()

	for key, results := range out {
		sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })
		out[key] = results
	}
	return out
}

// fingerprintProtocols is the fixed set of banner-carrying protocols C9
// probes on its own account, per spec §4.9(c): fingerprinting probes these
// itself rather than borrowing the service-detection stage's output, since
// --fingerprint requires only a port set and may run with
// --service-detection unset (spec §4.10 step 4, §8 scenario 5).
var fingerprintProtocols = []probe.Protocol{probe.SSH, probe.FTP, probe.SMTP, probe.HTTP, probe.DNS}

// runFingerprints composes a Host fingerprint per live host (spec §4.9): its
// own SSH/FTP/SMTP/HTTP/DNS probes over ports, plus a best-effort ARP MAC
// lookup.
func runFingerprints(ctx context.Context, hosts []ping.LiveHost, ports []int, g *gate.Gate) map[string]fingerprint.Host {
	services := runServiceDetection(ctx, hosts, ports, fingerprintProtocols, g)

	out := make(map[string]fingerprint.Host, len(hosts))
	for _, h := range hosts {
		mac, _ := fingerprint.LookupMAC(ctx, h.IP)
		out[h.IP.String()] = fingerprint.Compose(h.IP, h.TTL, mac, banners(services[h.IP.String()]))
	}
	return out
}

// banners extracts the detected-protocol banners from a host's
// service-detection results, per spec §4.9(c). Only banner-carrying probes
// contribute; a generic "Banner: ..." identification or Unknown Service
// result contributes nothing (it wasn't one of the named protocols).
func banners(results []service.Result) []fingerprint.ProbeBanner {
	var out []fingerprint.ProbeBanner
	for _, r := range results {
		switch r.Service {
		case string(probe.SSH), string(probe.FTP), string(probe.SMTP), string(probe.HTTP), string(probe.DNS):
			out = append(out, fingerprint.ProbeBanner{Port: r.Port, Protocol: r.Service, Banner: r.Banner})
		}
	}
	return out
}

func filterSelf(addrs []net.IP) []net.IP {
	out := make([]net.IP, 0, len(addrs))
	for _, ip := range addrs {
		if SelfFilter(ip) {
			continue
		}
		out = append(out, ip)
	}
	return out
}

func isLocalAddress(ip net.IP) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var addrIP net.IP
			switch a := a.(type) {
			case *net.IPNet:
				addrIP = a.IP
			case *net.IPAddr:
				addrIP = a.IP
			}
			if addrIP != nil && addrIP.Equal(ip) {
				return true
			}
		}
	}
	return false
}
