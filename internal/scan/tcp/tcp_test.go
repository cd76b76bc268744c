package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/xuoxod/netscan/internal/gate"
)

func TestScanOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	pairs := []HostPort{
		{IP: net.ParseIP("127.0.0.1"), Port: port},
	}
	g := gate.New(4)
	res := Scan(context.Background(), pairs, g)

	if len(res.Open) != 1 || res.Open[0].Port != port {
		t.Errorf("Open = %+v, want one entry for port %d", res.Open, port)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want none", res.Errors)
	}
}

func TestScanClosedPortIsNegativeNotError(t *testing.T) {
	// Bind then immediately close, to get a port nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	pairs := []HostPort{{IP: net.ParseIP("127.0.0.1"), Port: port}}
	g := gate.New(4)
	res := Scan(context.Background(), pairs, g)

	if len(res.Open) != 0 {
		t.Errorf("Open = %v, want none", res.Open)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v, want none (refused is negative, not an error)", res.Errors)
	}
}

func TestScanRespectsTimeout(t *testing.T) {
	orig := Timeout
	Timeout = 100 * time.Millisecond
	defer func() { Timeout = orig }()

	// 192.0.2.0/24 is TEST-NET-1 (RFC 5737): reserved, won't route anywhere.
	pairs := []HostPort{{IP: net.ParseIP("192.0.2.1"), Port: 80}}
	g := gate.New(4)

	start := time.Now()
	res := Scan(context.Background(), pairs, g)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Scan took %v, want it bounded by its %v timeout plus slack", elapsed, Timeout)
	}
	if len(res.Open) != 0 {
		t.Errorf("Open = %v, want none for an unreachable address", res.Open)
	}
}
