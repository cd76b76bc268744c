package service

import (
	"context"
	"net"
	"testing"

	"github.com/xuoxod/netscan/internal/probe"
)

// listenOnce starts one TCP listener that runs fn on every connection it
// accepts: Detect opens a fresh connection per probe and another for the
// generic banner fallback.
func listenOnce(t *testing.T, fn func(net.Conn)) (ip net.IP, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				fn(conn)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP, addr.Port
}

// Scenario 2 from spec §8: an SSH listener identified via the ssh probe.
func TestDetectSSH(t *testing.T) {
	ip, port := listenOnce(t, func(conn net.Conn) {
		conn.Write([]byte("SSH-2.0-OpenSSH_8.2\r\n"))
	})
	res := Detect(context.Background(), ip, port, []probe.Protocol{probe.SSH})
	if res.Service != "SSH" {
		t.Errorf("Service = %q, want %q", res.Service, "SSH")
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil", res.Err)
	}
	if len(res.ProtocolFailures) != 0 {
		t.Errorf("ProtocolFailures = %v, want empty", res.ProtocolFailures)
	}
}

// Scenario 3 from spec §8: a non-SSH banner falls back to "Banner: ...".
func TestDetectFallsBackToBanner(t *testing.T) {
	ip, port := listenOnce(t, func(conn net.Conn) {
		conn.Write([]byte("hello world\n"))
	})
	res := Detect(context.Background(), ip, port, []probe.Protocol{probe.SSH})
	if res.Service != "Banner: hello world" {
		t.Errorf("Service = %q, want %q", res.Service, "Banner: hello world")
	}
	if !res.ProtocolFailures[probe.SSH] {
		t.Errorf("ProtocolFailures = %v, want {SSH}", res.ProtocolFailures)
	}
}

// Scenario 4 from spec §8: nothing listens, so every protocol fails and the
// fallback read also fails; service is the Unknown sentinel with a non-empty
// error.
func TestDetectUnknownWhenNothingListens(t *testing.T) {
	// Bind then close immediately, to get a port nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	res := Detect(context.Background(), net.ParseIP("127.0.0.1"), port, []probe.Protocol{probe.SSH, probe.HTTP})
	if res.Service != Unknown {
		t.Errorf("Service = %q, want %q", res.Service, Unknown)
	}
	if res.Err == nil {
		t.Error("Err = nil, want non-empty error")
	}
	if len(res.ProtocolFailures) != 2 {
		t.Errorf("ProtocolFailures = %v, want 2 entries", res.ProtocolFailures)
	}
}

// Port-gating: a probe must still be attempted on a non-canonical port.
func TestDetectIsLenientAboutPort(t *testing.T) {
	ip, port := listenOnce(t, func(conn net.Conn) {
		conn.Write([]byte("SSH-2.0-OpenSSH_7.6p1\r\n"))
	})
	if port == 22 {
		t.Fatal("test setup produced the canonical SSH port; rerun")
	}
	res := Detect(context.Background(), ip, port, []probe.Protocol{probe.SSH})
	if res.Service != "SSH" {
		t.Errorf("Service = %q, want SSH detected on non-canonical port %d", res.Service, port)
	}
}
