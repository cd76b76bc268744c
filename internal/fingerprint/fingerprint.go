// Package fingerprint composes a host fingerprint (spec §4.9) from a live
// host's TTL, its ARP-derived MAC address (spec §4.8), and the banners
// collected by the service/probe stages.
package fingerprint

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/xuoxod/netscan/internal/backend"
)

// Timeout bounds how long the MAC lookup waits for an ARP reply.
const Timeout = 1 * time.Second

// Host is spec §3's HostFingerprint.
type Host struct {
	IP      net.IP
	OS      string
	Vendor  string
	MAC     net.HardwareAddr
	Serial  string
	Details string
}

// ttlRange is one row of the TTL-to-OS table in spec §4.9.
type ttlRange struct {
	lo, hi int
	os     string
}

var ttlTable = []ttlRange{
	{60, 70, "Linux/Unix"},
	{120, 130, "Windows"},
	{240, 255, "Network Device/Router"},
}

// GuessOS maps a reply TTL to an OS guess per spec §4.9's table.
func GuessOS(ttl int) string {
	for _, r := range ttlTable {
		if ttl >= r.lo && ttl <= r.hi {
			return r.os
		}
	}
	return "Unknown"
}

// LookupMAC sends an ARP request for ip and returns the sender hardware
// address of the first matching reply, per spec §4.8. It is only meaningful
// for hosts on the local subnet; a timeout or backend failure returns an
// error, which callers treat as "no MAC available" rather than fatal.
func LookupMAC(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	conn, err := backend.New(backend.ARP)
	if err != nil {
		return nil, fmt.Errorf("open ARP backend: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteTo(&backend.Packet{Type: backend.PacketRequest}, &net.IPAddr{IP: ip}); err != nil {
		return nil, fmt.Errorf("send ARP request: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()
	for {
		pkt, peer, err := conn.ReadFrom(cctx)
		if err != nil {
			return nil, err
		}
		if !peerIs(peer, ip) {
			continue
		}
		return pkt.HWAddr, nil
	}
}

func peerIs(peer net.Addr, ip net.IP) bool {
	a, ok := peer.(*net.IPAddr)
	return ok && a.IP.Equal(ip)
}

// ProbeBanner is one protocol banner contributed to a host's Details, per
// spec §4.9(c).
type ProbeBanner struct {
	Port     int
	Protocol string
	Banner   string
}

// Compose builds a Host record. It is a pure function of its inputs and is
// idempotent over a given snapshot, per spec §4.9's requirement.
func Compose(ip net.IP, ttl int, mac net.HardwareAddr, banners []ProbeBanner) Host {
	h := Host{IP: ip, OS: GuessOS(ttl), MAC: mac}

	var lines []string
	lines = append(lines, fmt.Sprintf("OS guess: %s", h.OS))
	if mac != nil {
		lines = append(lines, fmt.Sprintf("MAC: %s", mac))
	}

	sorted := append([]ProbeBanner(nil), banners...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Port < sorted[j].Port })
	for _, b := range sorted {
		lines = append(lines, fmt.Sprintf("%s (%d): %s", b.Protocol, b.Port, strings.TrimSpace(b.Banner)))
	}

	h.Details = strings.Join(lines, "\n")
	return h
}
