package client

import (
	"context"
	"errors"
	"net"

	"github.com/xuoxod/netscan/internal/backend"
	"github.com/xuoxod/netscan/internal/privsep/messages"
)

// Connection is a backend.Conn brokered through the privileged server.
type Connection struct {
	client   *Client
	id       messages.ConnectionID
	name     backend.Name
	readFrom chan messages.PacketReply
	closed   chan error
}

// ID returns the connection ID. Mostly useful for tests.
func (c *Connection) ID() messages.ConnectionID {
	return c.id
}

// Backend returns the name of the backend this connection belongs to.
func (c *Connection) Backend() backend.Name {
	return c.name
}

// WriteTo sends pkt to dest via the privileged server.
func (c *Connection) WriteTo(pkt *backend.Packet, dest net.Addr) error {
	return c.client.sendMessage(messages.SendPacket{
		ID:   c.id,
		Pkt:  *pkt,
		Addr: addrIP(dest).String(),
	})
}

// ReadFrom reads the next available reply, honoring ctx's deadline.
func (c *Connection) ReadFrom(ctx context.Context) (*backend.Packet, net.Addr, error) {
	select {
	case msg := <-c.readFrom:
		if msg.Err != "" {
			return nil, nil, errors.New(msg.Err)
		}
		return &msg.Pkt, &net.IPAddr{IP: net.ParseIP(msg.Peer)}, nil
	case <-ctx.Done():
		return nil, nil, backend.ErrTimeout
	}
}

// Close closes the connection.
func (c *Connection) Close() error {
	if err := c.client.sendMessage(messages.CloseConnection{ID: c.id}); err != nil {
		return err
	}
	return <-c.closed
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		return nil
	}
}
