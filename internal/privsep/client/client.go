// Package client is a client to the privsep server.
package client

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/xuoxod/netscan/internal/backend"
	"github.com/xuoxod/netscan/internal/privsep/messages"
)

// Client is the client for the privsep server.
type Client struct {
	in            io.ReadCloser
	r             *messages.Reader
	openConnReply chan messages.OpenConnectionReply

	mu          sync.Mutex
	out         io.WriteCloser
	w           *messages.Writer
	connections map[messages.ConnectionID]*Connection
}

// New creates a new client.
func New(in io.ReadCloser, out io.WriteCloser) *Client {
	c := &Client{
		in:            in,
		r:             messages.NewReader(in),
		out:           out,
		w:             messages.NewWriter(out),
		openConnReply: make(chan messages.OpenConnectionReply),
		connections:   make(map[messages.ConnectionID]*Connection),
	}
	go c.inputDemux()
	return c
}

// Close closes the client.
func (c *Client) Close() error {
	return errors.Join(
		c.in.Close(),
		c.out.Close(),
	)
}

// NewConn creates a new backend connection brokered through the server, to
// satisfy backend.PrivsepClient.
func (c *Client) NewConn(name backend.Name) (backend.Conn, error) {
	if err := c.sendMessage(messages.OpenConnection{Backend: name}); err != nil {
		return nil, err
	}
	reply := <-c.openConnReply
	if reply.Err != "" {
		return nil, errors.New(reply.Err)
	}
	conn := &Connection{
		client: c,
		id:     reply.ID,
		name:   name,
		// Buffered to prevent a "hold and wait" (possible deadlock) scenario,
		// since the send occurs while mu is locked.
		readFrom: make(chan messages.PacketReply, 1),
		closed:   make(chan error, 1),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections[reply.ID] = conn
	return conn, nil
}

// Shutdown sends a shutdown message to the server.
func (c *Client) Shutdown() error {
	return c.sendMessage(messages.Shutdown{})
}

func (c *Client) sendMessage(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Write(msg); err != nil {
		return fmt.Errorf("error writing to server: %v", err)
	}
	return nil
}

// Reads input from the privsep server and routes it where it needs to go.
func (c *Client) inputDemux() {
	for {
		msg, err := c.r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("Error reading from privsep server: %v", err)
			}
			return
		}
		switch msg := msg.(type) {
		case messages.OpenConnectionReply:
			c.openConnReply <- msg
		case messages.CloseConnectionReply:
			c.handleCloseConnectionReply(msg)
		case messages.PacketReply:
			c.handlePacketReply(msg)
		default:
			log.Printf("Unknown message read from privsep server: %#v", msg)
		}
	}
}

func (c *Client) handleCloseConnectionReply(msg messages.CloseConnectionReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.connections[msg.ID]
	if !ok {
		log.Printf("Received close reply to already closed connection: %v", msg.ID)
		return
	}
	delete(c.connections, msg.ID)
	var err error
	if msg.Err != "" {
		err = errors.New(msg.Err)
	}
	conn.closed <- err
	conn.client = nil // Panic on future writes (reads will block infinitely)
}

func (c *Client) handlePacketReply(msg messages.PacketReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.connections[msg.ID]
	if !ok {
		log.Printf("Reply from unknown connection %v", msg.ID)
		return
	}
	conn.readFrom <- msg
}
