// Package arp implements the MAC fingerprint backend (spec §4.8): an
// Ethernet+ARP request/reply exchange over a raw AF_PACKET socket, used to
// recover a local-subnet host's hardware address.
//
// This is the Go analogue of original_source/rust_backend/src/fingerprint_mac.rs,
// which builds the same Ethernet+ARP frames with the pnet crate's datalink
// channel. Here frame construction and parsing are done with
// github.com/gopacket/gopacket/layers, and the raw socket itself follows the
// same golang.org/x/sys/unix socket-creation idiom the teacher uses for its
// raw ICMP backend.
package arp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/xuoxod/netscan/internal/backend"
	"golang.org/x/sys/unix"
)

func init() {
	backend.Register(backend.ARP, func() (backend.Conn, error) { return New() })
}

const maxFrame = 1500

// Conn is a raw Ethernet+ARP connection bound to one local interface.
type Conn struct {
	fd      int
	ifIndex int
	srcMAC  net.HardwareAddr
	srcIP   net.IP
}

// New opens a raw AF_PACKET socket on the first interface that is up,
// non-loopback, and has an IPv4 address (spec §4.8). Opening an AF_PACKET
// SOCK_RAW socket requires CAP_NET_RAW; like the ICMP backend, this is
// normally invoked from inside the privsep server.
func New() (*Conn, error) {
	iface, srcIP, err := chooseInterface()
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ARP))
	if err != nil {
		return nil, fmt.Errorf("socket: %v", err)
	}
	sll := &unix.SockaddrLinklayer{
		Protocol: uint16(htons(unix.ETH_P_ARP)),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %v", err)
	}

	return &Conn{
		fd:      fd,
		ifIndex: iface.Index,
		srcMAC:  iface.HardwareAddr,
		srcIP:   srcIP,
	}, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// WriteTo sends an ARP request for pkt's destination IPv4 address.
func (c *Conn) WriteTo(pkt *backend.Packet, dest net.Addr) error {
	if pkt.Type != backend.PacketRequest {
		return fmt.Errorf("packet type must be %v (got %v)", backend.PacketRequest, pkt.Type)
	}
	destIP4 := toIP4(dest)
	if destIP4 == nil {
		return fmt.Errorf("arp: destination is not an IPv4 address: %v", dest)
	}

	eth := &layers.Ethernet{
		SrcMAC:       c.srcMAC,
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(c.srcMAC),
		SourceProtAddress: []byte(c.srcIP.To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(destIP4),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return fmt.Errorf("serialize arp request: %v", err)
	}

	target := &unix.SockaddrLinklayer{
		Protocol: uint16(htons(unix.ETH_P_ARP)),
		Ifindex:  c.ifIndex,
		Halen:    6,
	}
	copy(target.Addr[:], broadcastMAC)
	return unix.Sendto(c.fd, buf.Bytes(), 0, target)
}

// ReadFrom reads Ethernet frames until an ARP reply arrives or ctx's
// deadline passes. The caller is expected to have already sent a
// request via WriteTo and to know which address it is waiting on; ReadFrom
// itself just reports whatever ARP reply arrives first, letting callers
// filter by peer if multiple replies are in flight.
func (c *Conn) ReadFrom(ctx context.Context) (*backend.Packet, net.Addr, error) {
	if err := c.applyDeadline(ctx); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, maxFrame)
	for {
		n, _, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil, nil, backend.ErrTimeout
			}
			return nil, nil, fmt.Errorf("recvfrom: %v", err)
		}

		pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.Default)
		arpLayer := pkt.Layer(layers.LayerTypeARP)
		if arpLayer == nil {
			continue
		}
		arp := arpLayer.(*layers.ARP)
		if arp.Operation != layers.ARPReply {
			continue
		}
		peerIP := net.IP(arp.SourceProtAddress)
		return &backend.Packet{
			Type:   backend.PacketReply,
			HWAddr: net.HardwareAddr(arp.SourceHwAddress),
		}, &net.IPAddr{IP: peerIP}, nil
	}
}

func (c *Conn) applyDeadline(ctx context.Context) error {
	var tv unix.Timeval
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d < 0 {
			d = 0
		}
		tv = unix.NsecToTimeval(d.Nanoseconds())
	}
	return unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func htons(v int) int {
	return int(uint16(v)<<8 | uint16(v)>>8)
}

func toIP4(addr net.Addr) net.IP {
	var ip net.IP
	switch a := addr.(type) {
	case *net.IPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	default:
		return nil
	}
	return ip.To4()
}

// chooseInterface selects the first interface that is up, non-loopback, and
// has an IPv4 address, per spec §4.8.
func chooseInterface() (*net.Interface, net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("list interfaces: %v", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch a := a.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			}
			if ip4 := ip.To4(); ip4 != nil {
				ifaceCopy := iface
				return &ifaceCopy, ip4, nil
			}
		}
	}
	return nil, nil, errors.New("no suitable network interface found")
}
