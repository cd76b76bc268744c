package privsep

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/xuoxod/netscan/internal/backend"
	_ "github.com/xuoxod/netscan/internal/backend/arp" // registers backend.ARP
	_ "github.com/xuoxod/netscan/internal/backend/icmp" // registers backend.ICMP
	"github.com/xuoxod/netscan/internal/privsep/messages"
)

// Server handles messages from the privsep client and issues replies.
type Server struct {
	osExit func(int) // For test injection
	conns  map[messages.ConnectionID]backend.Conn
	nextID messages.ConnectionID

	in *os.File
	r  *messages.Reader

	mu  sync.Mutex
	out *os.File
	w   *messages.Writer
}

func newServer() *Server {
	return &Server{
		in:     os.Stdin,
		r:      messages.NewReader(os.Stdin),
		out:    os.Stdout,
		w:      messages.NewWriter(os.Stdout),
		osExit: os.Exit,
		conns:  make(map[messages.ConnectionID]backend.Conn),
	}
}

// run reads messages until the client closes the pipe or sends Shutdown.
func (s *Server) run() {
	for {
		msg, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("error reading message: %v", err)
		}
		s.handleMessage(msg)
	}
}

// readLoop reads replies from a connection and forwards them until the
// connection is closed.
func (s *Server) readLoop(id messages.ConnectionID) {
	conn := s.connFor(id)
	for {
		pkt, peer, err := conn.ReadFrom(context.Background())
		if err != nil {
			if strings.Contains(err.Error(), "closed network connection") {
				return
			}
			if errors.Is(err, backend.ErrTimeout) {
				continue
			}
			s.write(messages.PacketReply{ID: id, Err: err.Error()})
			continue
		}
		s.write(messages.PacketReply{
			ID:   id,
			Pkt:  *pkt,
			Peer: addrIP(peer),
		})
	}
}

// Close closes the server. This is meant for tests and doesn't exit the
// process.
func (s *Server) Close() error {
	var errs []error
	for _, conn := range s.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.in.Close(), s.out.Close())
	return errors.Join(errs...)
}

func (s *Server) connFor(id messages.ConnectionID) backend.Conn {
	conn, ok := s.conns[id]
	if !ok {
		log.Panicf("No connection for %d", id)
	}
	return conn
}

// write sends a message to the client. Panics on error: a broken pipe to
// the client means the server has no further purpose.
func (s *Server) write(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(msg); err != nil {
		log.Panicf("error writing message: %v", err)
	}
}

func (s *Server) handleMessage(msg any) {
	switch msg := msg.(type) {
	case messages.Shutdown:
		s.osExit(0)
	case messages.PrivilegeDrop:
		if err := dropPrivileges(); err != nil {
			log.Panicf("failed to drop privileges: %v", err)
		}
	case messages.OpenConnection:
		s.handleOpenConnection(msg)
	case messages.CloseConnection:
		s.handleCloseConnection(msg)
	case messages.SendPacket:
		s.handleSendPacket(msg)
	default:
		log.Panicf("invalid message: %#v", msg)
	}
}

func (s *Server) handleOpenConnection(msg messages.OpenConnection) {
	conn, err := backend.New(msg.Backend)
	if err != nil {
		s.write(messages.OpenConnectionReply{Err: err.Error()})
		return
	}
	id := s.nextID
	s.nextID++
	s.conns[id] = conn
	go s.readLoop(id)
	s.write(messages.OpenConnectionReply{ID: id})
}

func (s *Server) handleCloseConnection(msg messages.CloseConnection) {
	conn := s.connFor(msg.ID)
	err := conn.Close()
	delete(s.conns, msg.ID)
	reply := messages.CloseConnectionReply{ID: msg.ID}
	if err != nil {
		reply.Err = err.Error()
	}
	s.write(reply)
}

func (s *Server) handleSendPacket(msg messages.SendPacket) {
	conn := s.connFor(msg.ID)
	dest := &net.IPAddr{IP: net.ParseIP(msg.Addr)}
	if err := conn.WriteTo(&msg.Pkt, dest); err != nil {
		log.Printf("error sending packet: %v", err)
	}
}

func addrIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	case *net.TCPAddr:
		return a.IP.String()
	default:
		return ""
	}
}
