// Package udp implements the UDP port scan stage (spec §4.5): send a
// protocol-aware payload (or a single zero byte) and treat any datagram
// received within the timeout as a positive result.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xuoxod/netscan/internal/gate"
)

// Timeout bounds how long a probe waits for a reply datagram.
var Timeout = 3500 * time.Millisecond

// HostPort is an (address, port) pair.
type HostPort struct {
	IP   net.IP
	Port int
}

// HostPortError pairs a HostPort with a local resource failure.
type HostPortError struct {
	HostPort
	Err error
}

func (e HostPortError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.IP, e.Port, e.Err)
}

// Result is the outcome of scanning a set of (host, port) pairs.
type Result struct {
	Open   []HostPort
	Errors []HostPortError
}

// payloadFor returns the protocol-aware probe payload for port, per spec
// §4.5, falling back to a single zero byte for unrecognized ports.
func payloadFor(port int) []byte {
	switch port {
	case 53:
		return dnsQuery()
	default:
		return []byte{0}
	}
}

// dnsQuery builds a minimal DNS A-query for www.example.com, transaction id
// 0x1234, per spec §4.6's DNS row and §6's wire format.
func dnsQuery() []byte {
	msg := make([]byte, 0, 32)
	msg = append(msg, 0x12, 0x34) // transaction id
	msg = append(msg, 0x01, 0x00) // flags: recursion desired
	msg = append(msg, 0x00, 0x01) // QDCOUNT=1
	msg = append(msg, 0x00, 0x00) // ANCOUNT=0
	msg = append(msg, 0x00, 0x00) // NSCOUNT=0
	msg = append(msg, 0x00, 0x00) // ARCOUNT=0
	for _, label := range []string{"www", "example", "com"} {
		msg = append(msg, byte(len(label)))
		msg = append(msg, label...)
	}
	msg = append(msg, 0x00)       // root label
	msg = append(msg, 0x00, 0x01) // QTYPE=A
	msg = append(msg, 0x00, 0x01) // QCLASS=IN
	return msg
}

// Scan probes every (host, port) pair, bounded by g. Any datagram received
// is a positive (open) result; a send error or a receive timeout is a
// negative result (UDP is unreliable and reports silence as inconclusive,
// not an error, per spec §4.5/§7 rule 3); only local socket setup failures
// are recorded as errors.
func Scan(ctx context.Context, pairs []HostPort, g *gate.Gate) Result {
	var mu sync.Mutex
	var wg sync.WaitGroup
	res := Result{}

	for _, p := range pairs {
		wg.Add(1)
		go func(p HostPort) {
			defer wg.Done()
			g.Acquire()
			defer g.Release()

			open, err := probeOne(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, HostPortError{HostPort: p, Err: err})
				return
			}
			if open {
				res.Open = append(res.Open, p)
			}
		}(p)
	}
	wg.Wait()
	return res
}

func probeOne(ctx context.Context, p HostPort) (open bool, err error) {
	addr := &net.UDPAddr{IP: p.IP, Port: p.Port}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return false, fmt.Errorf("open local socket: %v", err)
	}
	defer conn.Close()

	if _, err := conn.WriteTo(payloadFor(p.Port), addr); err != nil {
		return false, nil // send failure is a negative result, not an error
	}

	deadline := time.Now().Add(Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return false, fmt.Errorf("set read deadline: %v", err)
	}

	buf := make([]byte, 512)
	if _, _, err := conn.ReadFromUDP(buf); err != nil {
		return false, nil // timeout or unreachable: negative, not an error
	}
	return true, nil
}
