// Package backend contains the low-level interface for raw-socket
// connections used by the ping sweep and MAC fingerprint stages.
//
// Backends are ICMP (ping sweep) or ARP (MAC fingerprint). Both may require
// elevated privileges, so both are brokered through UsePrivsep the same way
// the teacher's backend package brokers its ping connections.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	registry      = make(map[Name]NewConnFunc)
	privsepClient PrivsepClient

	// ErrTimeout indicates that an operation reached its deadline without a
	// reply.
	ErrTimeout = errors.New("timeout")
)

// PacketType distinguishes an outbound request from an inbound reply.
type PacketType int

// Values for PacketType.
const (
	// PacketRequest is an outbound probe (ICMP echo request, ARP request).
	PacketRequest PacketType = iota

	// PacketReply is an inbound reply (ICMP echo reply, ARP reply).
	PacketReply
)

func (t PacketType) String() string {
	switch t {
	case PacketRequest:
		return "PacketRequest"
	case PacketReply:
		return "PacketReply"
	default:
		return fmt.Sprintf("(unknown:%d)", t)
	}
}

// Packet is a higher-level representation of a probe request or reply.
type Packet struct {
	// Type is the type of packet sent or received.
	Type PacketType

	// Seq identifies a particular request/response pair (the ICMP echo
	// sequence number; unused for ARP).
	Seq int

	// TTL is the IP TTL the reply carried, when known. Only meaningful on a
	// PacketReply from the ICMP backend.
	TTL int

	// HWAddr is the peer's hardware address, when known. Only meaningful on
	// a PacketReply from the ARP backend.
	HWAddr net.HardwareAddr

	// Payload contains additional raw data sent in a request, or received
	// in a reply.
	Payload []byte
}

// Conn is the interface implemented by raw-socket backend connections.
type Conn interface {
	// WriteTo sends a request to a remote host.
	WriteTo(pkt *Packet, dest net.Addr) error

	// ReadFrom reads the next available reply, honoring ctx's deadline.
	ReadFrom(ctx context.Context) (pkt *Packet, peer net.Addr, err error)

	// Close closes the connection, unblocking any in-flight read or write.
	Close() error
}

// Name is the name of a backend.
type Name string

// Known backend names.
const (
	ICMP Name = "icmp"
	ARP  Name = "arp"
)

// New creates a new connection for the named backend. If privilege
// separation has been configured with UsePrivsep, the connection is
// brokered through the privileged server; otherwise it is opened directly,
// which requires the calling process to already hold the needed capability.
func New(name Name) (Conn, error) {
	if privsepClient != nil {
		return privsepClient.NewConn(name)
	}
	nc, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("invalid backend %q", name)
	}
	return nc()
}

// NewConnFunc creates a connection for a specific backend.
type NewConnFunc func() (Conn, error)

// Register configures a new backend implementation under name. Backend
// packages call this from an init function, the way icmp and arp do.
func Register(n Name, nc NewConnFunc) {
	registry[n] = nc
}

// PrivsepClient is the interface required of the privsep client.
type PrivsepClient interface {
	NewConn(Name) (Conn, error)
}

// UsePrivsep configures New to return connections brokered through the
// privileged server.
func UsePrivsep(client PrivsepClient) {
	privsepClient = client
}
