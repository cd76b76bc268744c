// Package icmp implements the ICMP echo backend used by the ping sweep
// stage. It is adapted from the teacher's icmp backend, trimmed to IPv4 and
// extended to surface the reply TTL, which the host fingerprint stage (§4.9)
// needs for its OS guess.
package icmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/xuoxod/netscan/internal/backend"
	"github.com/xuoxod/netscan/internal/util"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"
)

const (
	icmpProtoNum    = 1
	maxMTU          = 1500
	minPingInterval = 10 * time.Millisecond
	maxActiveConns  = 100
)

func init() {
	backend.Register(backend.ICMP, func() (backend.Conn, error) { return New() })
}

// Sent to when a connection is created; received from when a connection is
// closed. This bounds the number of simultaneously open raw sockets, since
// this code may run setuid root inside the privsep server.
var activeConns = make(chan any, maxActiveConns)

// Conn is an ICMP echo connection.
type Conn struct {
	pingID  int
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *ipv4.PacketConn
}

// New opens a new ICMP connection. It requires the privilege to open a raw
// ICMP socket (CAP_NET_RAW on Linux, or an unprivileged-ping allowance); the
// privsep server is what actually calls this in the common case.
func New() (*Conn, error) {
	select {
	case activeConns <- nil:
	default:
		return nil, errors.New("too many ICMP connections")
	}

	pc, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		<-activeConns
		return nil, fmt.Errorf("listen error: %v", err)
	}
	ipc := pc.IPv4PacketConn()
	if err := ipc.SetControlMessage(ipv4.FlagTTL, true); err != nil {
		pc.Close()
		<-activeConns
		return nil, fmt.Errorf("set control message: %v", err)
	}

	c := &Conn{
		pingID:  util.GenID() & 0xffff,
		limiter: rate.NewLimiter(rate.Every(minPingInterval), 20),
		conn:    ipc,
	}
	return c, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	err := c.conn.Close()
	<-activeConns
	return err
}

// WriteTo sends an ICMP echo request.
func (c *Conn) WriteTo(pkt *backend.Packet, dest net.Addr) error {
	if !c.limiter.Allow() {
		return errors.New("rate limit exceeded")
	}
	if pkt.Type != backend.PacketRequest {
		return fmt.Errorf("packet type must be %v (got %v)", backend.PacketRequest, pkt.Type)
	}

	wm := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   c.pingID,
			Seq:  pkt.Seq,
			Data: pkt.Payload,
		},
	}
	wb, err := wm.Marshal(nil)
	if err != nil {
		return fmt.Errorf("marshal error: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.WriteTo(wb, nil, wrangleAddr(dest))
	return err
}

// ReadFrom reads the next ICMP echo reply addressed to this session's ping
// ID, honoring ctx's deadline.
func (c *Conn) ReadFrom(ctx context.Context) (*backend.Packet, net.Addr, error) {
	buf := make([]byte, maxMTU)
	for {
		if dl, ok := ctx.Deadline(); ok {
			if err := c.conn.SetReadDeadline(dl); err != nil {
				return nil, nil, err
			}
		} else if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, nil, err
		}

		n, cm, peer, err := c.conn.ReadFrom(buf)
		if err != nil {
			if strings.HasSuffix(err.Error(), "timeout") {
				return nil, peer, backend.ErrTimeout
			}
			return nil, peer, fmt.Errorf("connection read error: %v", err)
		}

		rm, err := icmp.ParseMessage(icmpProtoNum, buf[:n])
		if err != nil {
			return nil, peer, fmt.Errorf("error parsing ICMP message: %v", err)
		}
		if rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.ID != c.pingID {
			continue
		}
		ttl := 0
		if cm != nil {
			ttl = cm.TTL
		}
		return &backend.Packet{
			Type:    backend.PacketReply,
			Seq:     echo.Seq,
			TTL:     ttl,
			Payload: echo.Data,
		}, peer, nil
	}
}

func wrangleAddr(addr net.Addr) *net.IPAddr {
	switch addr := addr.(type) {
	case *net.IPAddr:
		return addr
	case *net.UDPAddr:
		return &net.IPAddr{IP: addr.IP}
	default:
		return &net.IPAddr{IP: util.IP(addr)}
	}
}
