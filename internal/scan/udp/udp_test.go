package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/xuoxod/netscan/internal/gate"
)

func TestScanOpenPort(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP error: %v", err)
	}
	defer conn.Close()

	go func() {
		buf := make([]byte, 512)
		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], peer)
		}
	}()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	pairs := []HostPort{{IP: net.ParseIP("127.0.0.1"), Port: port}}
	g := gate.New(4)
	res := Scan(context.Background(), pairs, g)

	if len(res.Open) != 1 {
		t.Errorf("Open = %v, want one entry for port %d", res.Open, port)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want none", res.Errors)
	}
}

func TestScanSilenceIsNegativeNotError(t *testing.T) {
	orig := Timeout
	Timeout = 100 * time.Millisecond
	defer func() { Timeout = orig }()

	// Nothing listens here; expect silence, not an error.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP error: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	pairs := []HostPort{{IP: net.ParseIP("127.0.0.1"), Port: port}}
	g := gate.New(4)
	res := Scan(context.Background(), pairs, g)

	if len(res.Open) != 0 {
		t.Errorf("Open = %v, want none", res.Open)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want none (UDP silence is never an error)", res.Errors)
	}
}

func TestDNSQueryWireFormat(t *testing.T) {
	q := dnsQuery()
	if len(q) < 12 {
		t.Fatalf("dnsQuery() too short: %d bytes", len(q))
	}
	if q[0] != 0x12 || q[1] != 0x34 {
		t.Errorf("transaction id = %x%x, want 0x12 0x34", q[0], q[1])
	}
	if q[4] != 0x00 || q[5] != 0x01 {
		t.Errorf("QDCOUNT = %x%x, want 0x0001", q[4], q[5])
	}
}
