// Package probe implements the protocol detection state machines of spec
// §4.6: a set of small per-protocol probes, each opening its own socket and
// classifying what comes back.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol is one of the closed set of detectable protocols (spec §3).
type Protocol string

// The supported protocols.
const (
	SSH    Protocol = "SSH"
	FTP    Protocol = "FTP"
	SMTP   Protocol = "SMTP"
	POP3   Protocol = "POP3"
	IMAP   Protocol = "IMAP"
	TELNET Protocol = "TELNET"
	HTTP   Protocol = "HTTP"
	HTTPS  Protocol = "HTTPS"
	DNS    Protocol = "DNS"
)

// All lists every supported protocol, in the order spec §4.6 presents them.
var All = []Protocol{SSH, FTP, SMTP, POP3, IMAP, TELNET, HTTP, HTTPS, DNS}

// Default timeouts, per spec §4.6 and §5.
const (
	TimeoutConnect = 5 * time.Second
	TimeoutRead    = 2 * time.Second

	// SSH daemons commonly delay their banner, so SSH gets extended budgets.
	sshTimeoutConnect = 9 * time.Second
	sshTimeoutRead    = 8 * time.Second
)

// Result is the outcome of one probe attempt.
type Result struct {
	Detected bool
	Banner   string
	Err      error
}

// Run dials ip:port and runs proto's detection state machine, honoring its
// connect/read timeout budget. A protocol mismatch (empty Err, Detected
// false) is not an error; only a connect/read/setup failure sets Err.
func Run(ctx context.Context, proto Protocol, ip net.IP, port int) Result {
	switch proto {
	case SSH:
		return runBannerProbe(ctx, ip, port, sshTimeoutConnect, sshTimeoutRead, sshExchange)
	case FTP:
		return runBannerProbe(ctx, ip, port, TimeoutConnect, TimeoutRead, bannerContains("FTP"))
	case SMTP:
		return runBannerProbe(ctx, ip, port, TimeoutConnect, TimeoutRead, bannerContainsAny("SMTP", "ESMTP"))
	case POP3:
		return runBannerProbe(ctx, ip, port, TimeoutConnect, TimeoutRead, bannerHasPrefix("+OK"))
	case IMAP:
		return runBannerProbe(ctx, ip, port, TimeoutConnect, TimeoutRead, bannerHasPrefix("* OK"))
	case TELNET:
		return runBannerProbe(ctx, ip, port, TimeoutConnect, TimeoutRead, bannerContainsAny("login", "Welcome"))
	case HTTP:
		return runHTTP(ctx, ip, port)
	case HTTPS:
		return runHTTPS(ctx, ip, port)
	case DNS:
		return runDNSOverTCP(ctx, ip, port)
	default:
		return Result{Err: fmt.Errorf("unknown protocol %q", proto)}
	}
}

// exchange reads (and optionally writes to) an already-connected socket and
// decides whether the banner matches its protocol.
type exchange func(conn net.Conn, readDeadline time.Time) (detected bool, banner string, err error)

func runBannerProbe(ctx context.Context, ip net.IP, port int, connectTimeout, readTimeout time.Duration, ex exchange) Result {
	conn, err := dial(ctx, ip, port, connectTimeout)
	if err != nil {
		return Result{Err: fmt.Errorf("connect: %v", err)}
	}
	defer conn.Close()

	detected, banner, err := ex(conn, time.Now().Add(readTimeout))
	if err != nil {
		return Result{Err: fmt.Errorf("read: %v", err)}
	}
	return Result{Detected: detected, Banner: banner}
}

func dial(ctx context.Context, ip net.IP, port int, timeout time.Duration) (net.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	d := &net.Dialer{}
	return d.DialContext(cctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
}

func readBanner(conn net.Conn, deadline time.Time) (string, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}

func bannerContains(sub string) exchange {
	return func(conn net.Conn, deadline time.Time) (bool, string, error) {
		banner, err := readBanner(conn, deadline)
		if err != nil {
			return false, "", err
		}
		return strings.Contains(banner, sub), banner, nil
	}
}

func bannerContainsAny(subs ...string) exchange {
	return func(conn net.Conn, deadline time.Time) (bool, string, error) {
		banner, err := readBanner(conn, deadline)
		if err != nil {
			return false, "", err
		}
		for _, s := range subs {
			if strings.Contains(banner, s) {
				return true, banner, nil
			}
		}
		return false, banner, nil
	}
}

func bannerHasPrefix(prefix string) exchange {
	return func(conn net.Conn, deadline time.Time) (bool, string, error) {
		banner, err := readBanner(conn, deadline)
		if err != nil {
			return false, "", err
		}
		return strings.HasPrefix(banner, prefix), banner, nil
	}
}

// sshExchange implements spec §4.6's SSH row: read; if the first read is
// empty, send a newline to prompt the banner and retry once. The first read
// waits up to half the read budget, so the retry still fits before deadline.
func sshExchange(conn net.Conn, deadline time.Time) (bool, string, error) {
	first := time.Now().Add(time.Until(deadline) / 2)
	banner, err := readBanner(conn, first)
	if err != nil {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			return false, "", err
		}
		banner = ""
	}
	if banner == "" {
		if _, err := conn.Write([]byte("\n")); err != nil {
			return false, "", err
		}
		banner, err = readBanner(conn, deadline)
		if err != nil {
			return false, "", err
		}
	}
	return strings.HasPrefix(banner, "SSH-"), banner, nil
}

func runHTTP(ctx context.Context, ip net.IP, port int) Result {
	conn, err := dial(ctx, ip, port, TimeoutConnect)
	if err != nil {
		return Result{Err: fmt.Errorf("connect: %v", err)}
	}
	defer conn.Close()

	req := fmt.Sprintf("GET / HTTP/1.0\r\nHost: %s\r\n\r\n", ip.String())
	if err := conn.SetWriteDeadline(time.Now().Add(TimeoutRead)); err != nil {
		return Result{Err: err}
	}
	if _, err := conn.Write([]byte(req)); err != nil {
		return Result{Err: fmt.Errorf("write: %v", err)}
	}

	banner, err := readBanner(conn, time.Now().Add(TimeoutRead))
	if err != nil {
		return Result{Err: fmt.Errorf("read: %v", err)}
	}
	detected := strings.Contains(banner, "HTTP/1.0") || strings.Contains(banner, "HTTP/1.1")
	return Result{Detected: detected, Banner: banner}
}

// runHTTPS completes a TLS handshake using the target IP string as SNI
// (spec §4.6/§9(c): not a valid hostname, tolerated by design) and accepts
// any server certificate.
func runHTTPS(ctx context.Context, ip net.IP, port int) Result {
	cctx, cancel := context.WithTimeout(ctx, TimeoutConnect)
	defer cancel()

	d := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: true,
			ServerName:         ip.String(),
		},
	}
	conn, err := d.DialContext(cctx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return Result{Err: fmt.Errorf("tls handshake: %v", err)}
	}
	defer conn.Close()
	return Result{Detected: true, Banner: "TLS handshake succeeded"}
}

// runDNSOverTCP implements spec §4.6's DNS row: a length-prefixed query,
// transaction id 0x1234, question for the root A-record.
func runDNSOverTCP(ctx context.Context, ip net.IP, port int) Result {
	conn, err := dial(ctx, ip, port, TimeoutConnect)
	if err != nil {
		return Result{Err: fmt.Errorf("connect: %v", err)}
	}
	defer conn.Close()

	query := rootAQuery()
	framed := make([]byte, 2+len(query))
	framed[0] = byte(len(query) >> 8)
	framed[1] = byte(len(query))
	copy(framed[2:], query)

	if err := conn.SetWriteDeadline(time.Now().Add(TimeoutRead)); err != nil {
		return Result{Err: err}
	}
	if _, err := conn.Write(framed); err != nil {
		return Result{Err: fmt.Errorf("write: %v", err)}
	}

	if err := conn.SetReadDeadline(time.Now().Add(TimeoutRead)); err != nil {
		return Result{Err: err}
	}
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return Result{Err: fmt.Errorf("read: %v", err)}
	}
	if n < 4 {
		return Result{Detected: false}
	}
	// The reply is length-prefixed the same way the query was; the
	// transaction id follows the 2-byte length.
	id := buf[2:4]
	detected := id[0] == 0x12 && id[1] == 0x34
	return Result{Detected: detected, Banner: fmt.Sprintf("%d bytes", n)}
}

// rootAQuery builds a DNS query for the root A record, id 0x1234, matching
// spec §4.6's DNS (TCP) row.
func rootAQuery() []byte {
	msg := make([]byte, 0, 16)
	msg = append(msg, 0x12, 0x34) // transaction id
	msg = append(msg, 0x01, 0x00) // flags: recursion desired
	msg = append(msg, 0x00, 0x01) // QDCOUNT=1
	msg = append(msg, 0x00, 0x00) // ANCOUNT=0
	msg = append(msg, 0x00, 0x00) // NSCOUNT=0
	msg = append(msg, 0x00, 0x00) // ARCOUNT=0
	msg = append(msg, 0x00)       // root label (QNAME)
	msg = append(msg, 0x00, 0x01) // QTYPE=A
	msg = append(msg, 0x00, 0x01) // QCLASS=IN
	return msg
}
