// Package ping implements the ping sweep stage (spec §4.3): send an ICMP
// echo to every candidate address and partition the targets into live,
// not-alive, and errored sets.
package ping

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xuoxod/netscan/internal/backend"
	"github.com/xuoxod/netscan/internal/gate"
)

// Timeout is how long the sweep waits for a reply to a single echo request.
// It is a var, not a const, so tests can shorten it.
var Timeout = 5 * time.Second

// LiveHost is a host that answered the ping sweep.
type LiveHost struct {
	IP  net.IP
	TTL int
}

// TargetError pairs a target with the error that prevented a result.
type TargetError struct {
	IP  net.IP
	Err error
}

func (e TargetError) Error() string {
	return fmt.Sprintf("%v: %v", e.IP, e.Err)
}

// Result is the partitioned outcome of a sweep, per spec §3's PingSweepResult.
type Result struct {
	Live     []LiveHost
	NotAlive []net.IP
	Errors   []TargetError
}

// addrState is the per-address state machine of spec §4.3:
// PENDING → SENT → (REPLIED | TIMED_OUT | ERROR).
type addrState int

const (
	stateReplied addrState = iota
	stateTimedOut
	stateError
)

// sweeper demultiplexes replies off a single shared ICMP connection to the
// goroutine awaiting that sequence number. A raw socket only has one read
// side, so one background goroutine owns ReadFrom and fans replies out;
// individual probes never call ReadFrom themselves.
type sweeper struct {
	conn backend.Conn

	mu      sync.Mutex
	waiters map[int]*waiter
}

// waiter pairs a pingOne call's reply channel with the target it pinged, so
// demux can reject a reply carrying a matching sequence number but coming
// from the wrong address (spec §4.3: "accepted only when the source address
// equals the target").
type waiter struct {
	ch chan *backend.Packet
	ip net.IP
}

func newSweeper(conn backend.Conn) *sweeper {
	s := &sweeper{conn: conn, waiters: make(map[int]*waiter)}
	go s.demux()
	return s
}

func (s *sweeper) demux() {
	for {
		pkt, peer, err := s.conn.ReadFrom(context.Background())
		if err != nil {
			return
		}
		s.mu.Lock()
		w, ok := s.waiters[pkt.Seq]
		s.mu.Unlock()
		if ok && peerIs(peer, w.ip) {
			w.ch <- pkt
		}
	}
}

// peerIs reports whether peer is ip.
func peerIs(peer net.Addr, ip net.IP) bool {
	a, ok := peer.(*net.IPAddr)
	return ok && a.IP.Equal(ip)
}

func (s *sweeper) register(seq int, ip net.IP) chan *backend.Packet {
	ch := make(chan *backend.Packet, 1)
	s.mu.Lock()
	s.waiters[seq] = &waiter{ch: ch, ip: ip}
	s.mu.Unlock()
	return ch
}

func (s *sweeper) unregister(seq int) {
	s.mu.Lock()
	delete(s.waiters, seq)
	s.mu.Unlock()
}

// Sweep pings every address in targets concurrently, bounded by g, and
// returns the partitioned result. A failure to open the ICMP backend at all
// (e.g. no raw-socket privilege) degrades every target to an error entry
// rather than aborting the sweep, per spec §7 rule 2.
func Sweep(ctx context.Context, targets []net.IP, g *gate.Gate) Result {
	conn, err := backend.New(backend.ICMP)
	if err != nil {
		var errs []TargetError
		for _, ip := range targets {
			errs = append(errs, TargetError{IP: ip, Err: fmt.Errorf("open ICMP backend: %v", err)})
		}
		return Result{Errors: errs}
	}
	defer conn.Close()
	return sweepConn(ctx, targets, g, conn)
}

// sweepConn runs the sweep against an already-open connection, split out so
// tests can supply a fake backend.Conn instead of a real raw socket.
func sweepConn(ctx context.Context, targets []net.IP, g *gate.Gate, conn backend.Conn) Result {
	s := newSweeper(conn)

	var mu sync.Mutex
	var wg sync.WaitGroup
	res := Result{}

	for i, ip := range targets {
		wg.Add(1)
		go func(seq int, ip net.IP) {
			defer wg.Done()
			g.Acquire()
			defer g.Release()

			state, live, err := s.pingOne(ctx, ip, seq)
			mu.Lock()
			defer mu.Unlock()
			switch state {
			case stateReplied:
				res.Live = append(res.Live, live)
			case stateTimedOut:
				res.NotAlive = append(res.NotAlive, ip)
			case stateError:
				res.Errors = append(res.Errors, TargetError{IP: ip, Err: err})
			}
		}(i+1, ip)
	}
	wg.Wait()
	return res
}

func (s *sweeper) pingOne(ctx context.Context, ip net.IP, seq int) (addrState, LiveHost, error) {
	replies := s.register(seq, ip)
	defer s.unregister(seq)

	dest := &net.IPAddr{IP: ip}
	if err := s.conn.WriteTo(&backend.Packet{Type: backend.PacketRequest, Seq: seq}, dest); err != nil {
		return stateError, LiveHost{}, err
	}

	timer := time.NewTimer(Timeout)
	defer timer.Stop()
	select {
	case pkt := <-replies:
		return stateReplied, LiveHost{IP: ip, TTL: pkt.TTL}, nil
	case <-timer.C:
		return stateTimedOut, LiveHost{}, nil
	case <-ctx.Done():
		return stateTimedOut, LiveHost{}, nil
	}
}
