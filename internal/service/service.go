// Package service implements the service detector (spec §4.7): for a given
// port, try each requested protocol probe in order and fall back to a
// generic banner read.
package service

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/xuoxod/netscan/internal/probe"
)

// Unknown is the sentinel service name when nothing could be identified.
const Unknown = "Unknown Service"

// Result is spec §3's ServiceDetectionResult.
type Result struct {
	Port             int
	Service          string
	Err              error
	ProtocolFailures map[probe.Protocol]bool

	// Banner is the raw evidence behind a positive identification: the
	// matched probe's banner text, used by the fingerprint stage (spec
	// §4.9(c)) to fill in per-port detail lines. Empty when Service is
	// Unknown or a generic banner read ("Banner: ...", which already
	// carries the text in Service itself).
	Banner string
}

// Detect tries each protocol in protos, in order, against ip:port. The
// first probe that detects a match wins: Service is set to its name,
// ProtocolFailures only records probes attempted before the match. If no
// protocol matches, Detect performs a generic banner read; a non-empty
// banner yields "Banner: <text>", otherwise Service is Unknown and Err
// joins every probe's failure reason.
//
// Port-gating policy (spec §4.7): every requested protocol is attempted
// regardless of whether port is that protocol's canonical port.
func Detect(ctx context.Context, ip net.IP, port int, protos []probe.Protocol) Result {
	res := Result{Port: port, ProtocolFailures: make(map[probe.Protocol]bool)}
	var reasons []string

	for _, p := range protos {
		r := probe.Run(ctx, p, ip, port)
		if r.Err != nil {
			res.ProtocolFailures[p] = true
			reasons = append(reasons, fmt.Sprintf("%s: %v", p, r.Err))
			continue
		}
		if r.Detected {
			res.Service = string(p)
			res.Banner = r.Banner
			return res
		}
		res.ProtocolFailures[p] = true
		reasons = append(reasons, fmt.Sprintf("%s: no match", p))
	}

	banner, err := genericBanner(ctx, ip, port)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("banner: %v", err))
	} else if banner != "" {
		res.Service = "Banner: " + banner
		return res
	}

	res.Service = Unknown
	if len(reasons) > 0 {
		res.Err = fmt.Errorf("%s", strings.Join(reasons, " | "))
	}
	return res
}

// genericBanner performs the fallback read of spec §4.7: connect, read up
// to 256 bytes within probe.TimeoutRead, trim whitespace.
func genericBanner(ctx context.Context, ip net.IP, port int) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, probe.TimeoutConnect)
	defer cancel()
	d := &net.Dialer{}
	conn, err := d.DialContext(cctx, "tcp", net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(probe.TimeoutRead)); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}
