// Package target implements the target expander (spec §4.1): turning a
// bare IPv4 address or a CIDR block into an ordered list of addresses, and
// the companion port-range parser/formatter used by the CLI (spec §6, §8).
package target

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Errors returned by Expand, matching the taxonomy named in spec §4.1.
var (
	ErrInvalidTargetFormat = fmt.Errorf("target is neither a bare address nor a CIDR block")
	ErrInvalidAddress      = fmt.Errorf("invalid IPv4 address")
	ErrInvalidPrefix       = fmt.Errorf("invalid prefix length")
	ErrPrefixOutOfRange    = fmt.Errorf("prefix length out of range")
)

// Expand parses spec (a bare IPv4 address or an "A.B.C.D/N" CIDR block) and
// returns every address it names, in ascending numeric order. A /32 (or a
// bare address) yields a single-element slice. Per spec §4.1/§9(a), network
// and broadcast addresses are never elided.
func Expand(spec string) ([]net.IP, error) {
	if !strings.Contains(spec, "/") {
		ip := net.ParseIP(spec)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, spec)
		}
		return []net.IP{ip.To4()}, nil
	}
	return ParseSubnet(spec)
}

// ParseSubnet parses a strict "A.B.C.D/N" CIDR block, per spec §8's parser
// unit tests: unlike Expand, a bare address (no "/") is rejected with
// ErrInvalidTargetFormat rather than treated as a single-host target.
func ParseSubnet(spec string) ([]net.IP, error) {
	if !strings.Contains(spec, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetFormat, spec)
	}

	base, prefixStr, _ := strings.Cut(spec, "/")
	ip := net.ParseIP(base)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, base)
	}
	prefix, err := strconv.Atoi(prefixStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefixStr)
	}
	if prefix < 0 || prefix > 32 {
		return nil, fmt.Errorf("%w: /%d", ErrPrefixOutOfRange, prefix)
	}

	return enumerate(ip.To4(), prefix), nil
}

// MaxExpansion caps the number of addresses a single CIDR block may
// enumerate to, per spec §8's boundary behavior for "/0": a scan of the
// entire IPv4 space is never useful and would exhaust memory building the
// slice, so enumeration is capped here rather than left unbounded.
const MaxExpansion = 1 << 20

// enumerate returns every address in the block base/prefix, in ascending
// order, including the network and broadcast addresses, capped at
// MaxExpansion entries.
func enumerate(base net.IP, prefix int) []net.IP {
	start := binary.BigEndian.Uint32(base)
	var mask uint32
	if prefix == 0 {
		mask = 0
	} else {
		mask = ^uint32(0) << (32 - prefix)
	}
	network := start & mask
	count := uint64(1) << (32 - prefix)
	if count > MaxExpansion {
		count = MaxExpansion
	}

	ips := make([]net.IP, 0, count)
	for i := uint64(0); i < count; i++ {
		addr := uint32(network) + uint32(i)
		b := make(net.IP, 4)
		binary.BigEndian.PutUint32(b, addr)
		ips = append(ips, b)
	}
	return ips
}

// ParsePortRanges parses a comma-separated list of port tokens, each a bare
// port number or a "start-end" range, and returns the deduped, ascending
// list of ports named, per spec §6's range parser requirement.
func ParsePortRanges(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		lo, hi, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		for p := lo; p <= hi; p++ {
			seen[p] = true
		}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parseToken(tok string) (lo, hi int, err error) {
	if strings.Contains(tok, "-") {
		a, b, _ := strings.Cut(tok, "-")
		lo, err = strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port range %q: %v", tok, err)
		}
		hi, err = strconv.Atoi(strings.TrimSpace(b))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid port range %q: %v", tok, err)
		}
		if hi < lo {
			return 0, 0, fmt.Errorf("invalid port range %q: end before start", tok)
		}
		return lo, hi, nil
	}
	p, err := strconv.Atoi(tok)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q: %v", tok, err)
	}
	return p, p, nil
}

// FormatPortRanges is the inverse of ParsePortRanges for a sorted, deduped
// input: it collapses consecutive runs back into "start-end" tokens,
// matching spec §8's round-trip property.
func FormatPortRanges(ports []int) string {
	if len(ports) == 0 {
		return ""
	}
	var parts []string
	start := ports[0]
	prev := ports[0]
	flush := func(end int) {
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, p := range ports[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		flush(prev)
		start, prev = p, p
	}
	flush(prev)
	return strings.Join(parts, ",")
}
