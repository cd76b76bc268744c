package fingerprint

import (
	"net"
	"strings"
	"testing"
)

func TestGuessOS(t *testing.T) {
	cases := []struct {
		ttl  int
		want string
	}{
		{64, "Linux/Unix"},
		{60, "Linux/Unix"},
		{70, "Linux/Unix"},
		{128, "Windows"},
		{255, "Network Device/Router"},
		{240, "Network Device/Router"},
		{15, "Unknown"},
		{200, "Unknown"},
	}
	for _, c := range cases {
		if got := GuessOS(c.ttl); got != c.want {
			t.Errorf("GuessOS(%d) = %q, want %q", c.ttl, got, c.want)
		}
	}
}

// Scenario 5 from spec §8: TTL=64, SSH banner present.
func TestComposeIncludesOSAndBanner(t *testing.T) {
	ip := net.ParseIP("192.168.1.1")
	h := Compose(ip, 64, nil, []ProbeBanner{
		{Port: 22, Protocol: "SSH", Banner: "SSH-2.0-OpenSSH_7.6p1"},
	})
	if h.OS != "Linux/Unix" {
		t.Errorf("OS = %q, want Linux/Unix", h.OS)
	}
	if !strings.Contains(h.Details, "SSH-2.0-OpenSSH_7.6p1") {
		t.Errorf("Details = %q, want it to contain the SSH banner", h.Details)
	}
}

func TestComposeIsIdempotent(t *testing.T) {
	ip := net.ParseIP("192.168.1.1")
	mac := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	banners := []ProbeBanner{
		{Port: 80, Protocol: "HTTP", Banner: "HTTP/1.1 200 OK"},
		{Port: 22, Protocol: "SSH", Banner: "SSH-2.0-OpenSSH_8.2"},
	}
	a := Compose(ip, 64, mac, banners)
	b := Compose(ip, 64, mac, banners)
	if a.Details != b.Details {
		t.Errorf("Compose is not idempotent:\na = %q\nb = %q", a.Details, b.Details)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
