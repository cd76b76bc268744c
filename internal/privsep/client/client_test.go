package client

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuoxod/netscan/internal/backend"
	"github.com/xuoxod/netscan/internal/privsep/messages"
)

type messageHandler func(any) any

type fakeServer struct {
	in  io.ReadCloser
	r   *messages.Reader
	out io.WriteCloser
	w   *messages.Writer

	handler messageHandler
}

func newFakeServer(in io.ReadCloser, out io.WriteCloser, handler messageHandler) *fakeServer {
	return &fakeServer{
		in:      in,
		r:       messages.NewReader(in),
		out:     out,
		w:       messages.NewWriter(out),
		handler: handler,
	}
}

func (s *fakeServer) Close() error {
	return errors.Join(
		s.in.Close(),
		s.out.Close(),
	)
}

func (s *fakeServer) Run() {
	for {
		in, err := s.r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("Read: %v", err)
			}
			return
		}
		out := s.handler(in)
		if out != nil {
			if err := s.w.Write(out); err != nil {
				log.Printf("Write: %v", err)
				return
			}
		}
	}
}

// Makes a connected client/server pair.
func makeCSPair(t *testing.T, handler messageHandler) (*Client, *fakeServer) {
	fromClient, toServer, err := os.Pipe()
	if err != nil {
		t.Fatalf("Error creating pipe: %v", err)
	}
	fromClient.SetDeadline(time.Now().Add(5 * time.Second))
	toServer.SetDeadline(time.Now().Add(5 * time.Second))
	fromServer, toClient, err := os.Pipe()
	if err != nil {
		t.Fatalf("Error creating pipe: %v", err)
	}
	fromServer.SetDeadline(time.Now().Add(5 * time.Second))
	toClient.SetDeadline(time.Now().Add(5 * time.Second))

	client := New(fromServer, toServer)
	server := newFakeServer(fromClient, toClient, handler)
	return client, server
}

func TestClientOpenClose(t *testing.T) {
	handler := func(msg any) any {
		switch msg := msg.(type) {
		case messages.OpenConnection:
			return messages.OpenConnectionReply{ID: 1234}
		case messages.CloseConnection:
			if msg.ID != 1234 {
				return nil
			}
			return messages.CloseConnectionReply{ID: msg.ID}
		default:
			return nil
		}
	}
	client, server := makeCSPair(t, handler)
	go server.Run()

	conn, err := client.NewConn(backend.ICMP)
	if err != nil {
		t.Fatalf("NewConn error: %v", err)
	}
	c := conn.(*Connection)
	if c.ID() != 1234 {
		t.Errorf("Wrong connection ID: %v (want %v)", c.ID(), 1234)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Error closing connection: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Error closing client: %v", err)
	}
}

func TestReadFrom(t *testing.T) {
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	sent := messages.PacketReply{
		ID: 1234,
		Pkt: backend.Packet{
			Type:    backend.PacketReply,
			Seq:     2,
			Payload: []byte("payload"),
		},
		Peer: "10.0.8.2",
	}
	handler := func(msg any) any {
		switch msg := msg.(type) {
		case messages.OpenConnection:
			return messages.OpenConnectionReply{ID: 1234}
		case messages.CloseConnection:
			if msg.ID != 1234 {
				return nil
			}
			return messages.CloseConnectionReply{ID: msg.ID}
		case messages.SendPacket:
			return sent
		default:
			return nil
		}
	}
	client, server := makeCSPair(t, handler)
	go server.Run()

	conn, err := client.NewConn(backend.ICMP)
	if err != nil {
		t.Errorf("NewConn error: %v", err)
	}

	loopback := &net.IPAddr{IP: net.ParseIP("127.0.0.1")}
	if err := conn.WriteTo(&backend.Packet{}, loopback); err != nil {
		t.Errorf("WriteTo error: %v", err)
	}

	pkt, peer, err := conn.ReadFrom(ctx)
	if err != nil {
		t.Errorf("ReadFrom error: %v", err)
	}
	if diff := cmp.Diff(&net.IPAddr{IP: net.ParseIP(sent.Peer)}, peer); diff != "" {
		t.Errorf("Wrong peer (-want, +got):\n%v", diff)
	}
	if diff := cmp.Diff(&sent.Pkt, pkt); diff != "" {
		t.Errorf("Wrong packet (-want, +got):\n%v", diff)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Error closing connection: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Error closing client: %v", err)
	}
}

func TestWriteTo(t *testing.T) {
	var gotMsg messages.SendPacket // Don't test until after client.Close() to avoid races.
	handler := func(msg any) any {
		switch msg := msg.(type) {
		case messages.OpenConnection:
			return messages.OpenConnectionReply{ID: 1234}
		case messages.CloseConnection:
			if msg.ID != 1234 {
				return nil
			}
			return messages.CloseConnectionReply{ID: msg.ID}
		case messages.SendPacket:
			gotMsg = msg
			return nil
		default:
			return nil
		}
	}
	client, server := makeCSPair(t, handler)
	go server.Run()

	conn, err := client.NewConn(backend.ICMP)
	if err != nil {
		t.Errorf("NewConn error: %v", err)
	}

	sent := &backend.Packet{
		Seq:     2,
		Payload: []byte("stuff"),
	}
	loopback := &net.IPAddr{IP: net.ParseIP("127.0.0.1")}
	if err := conn.WriteTo(sent, loopback); err != nil {
		t.Errorf("WriteTo error: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Error closing connection: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Error closing client: %v", err)
	}

	want := messages.SendPacket{
		ID:   1234,
		Pkt:  *sent,
		Addr: "127.0.0.1",
	}
	if diff := cmp.Diff(want, gotMsg); diff != "" {
		t.Errorf("Wrong packet received by server (-want, +got):\n%v", diff)
	}
}
