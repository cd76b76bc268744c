/*
Package privsep runs the raw-socket backends (ICMP ping sweep, ARP MAC
fingerprint) as a privileged child process.

This works as a client/server, where the main part of the program is the
client, and the privileged part runs in a separate process connected by
pipes.

# Rationale

Opening a raw ICMP socket or an AF_PACKET socket both require CAP_NET_RAW on
Linux. A setuid-root binary could open the sockets and then drop privileges,
but this program opens new sockets throughout its run (one per scan target),
so privileges can't be dropped once and forgotten. Privilege separation is
the next best thing: a small privileged server that only ever opens sockets
and relays bytes, driven by an unprivileged client that does everything else.

# Rules

  - Keep this package as simple and easy to read as possible.
  - [Postel's law] does not apply here. This package should be as finicky as
    possible, and os.Exit at the first sign of malformed input.
  - Call [Initialize] in main before everything else. It should be the
    first line.
  - No [unsafe].

[Postel's law]: https://en.wikipedia.org/wiki/Robustness_principle
*/
package privsep

import (
	"bufio"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"syscall"

	"github.com/xuoxod/netscan/internal/backend"
	"github.com/xuoxod/netscan/internal/privsep/client"
)

const startPrivFlag = "[privileged]"

// Initialize starts the privileged server as a child process and wires
// backend.New to broker connections through it. It returns a shutdown
// function that must be called (typically via defer) before the process
// exits.
//
// If the current process is the re-exec'd privileged child (identified by
// startPrivFlag), Initialize runs the server loop and never returns; the
// process exits when the server does.
func Initialize() func() {
	if len(os.Args) == 2 && os.Args[1] == startPrivFlag {
		log.Printf("Starting privileged server.")
		server := newServer()
		server.run()
		os.Exit(0)
	}

	if os.Getuid() != os.Geteuid() {
		if err := dropPrivileges(); err != nil {
			log.Fatalf("Error dropping privileges: %v", err)
		}
	}

	me, err := os.Executable()
	if err != nil {
		log.Fatalf("Can't determine self executable: %v", err)
	}
	cmd := exec.Command(me, startPrivFlag)
	cmd.Args[0] = "netscan"
	cmd.Env = []string{}

	clientIn, err := cmd.StdoutPipe()
	if err != nil {
		log.Fatalf("Error creating pipe: %v", err)
	}
	clientOut, err := cmd.StdinPipe()
	if err != nil {
		log.Fatalf("Error creating pipe: %v", err)
	}
	clientErr, err := cmd.StderrPipe()
	if err != nil {
		log.Fatalf("Error creating pipe: %v", err)
	}
	waited := make(chan any)
	go stderrLogger(clientErr)

	if err := cmd.Start(); err != nil {
		log.Fatalf("Error running privileged server: %v", err)
	}
	go watchdog(cmd, waited)

	c := client.New(clientIn, clientOut)
	backend.UsePrivsep(c)

	return shutdownFunc(cmd, c, waited)
}

func stderrLogger(r io.Reader) {
	rb := bufio.NewReader(r)
	for {
		line, err := rb.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("ReadString error: %v", err)
			}
			return
		}
		log.Printf("privsep: %v", line)
	}
}

func watchdog(cmd *exec.Cmd, waited chan<- any) {
	defer close(waited)
	if err := cmd.Wait(); err != nil {
		log.Printf("Privsep server exited with error: %v", err)
	}
}

func shutdownFunc(cmd *exec.Cmd, c *client.Client, waited <-chan any) func() {
	return func() {
		if err := c.Shutdown(); err != nil {
			log.Printf("Error shutting down privsep: %v", err)
			if err := cmd.Process.Kill(); err != nil {
				log.Printf("Error killing privsep: %v", err)
			}
		}
		if err := c.Close(); err != nil {
			log.Printf("Error closing privsep client: %v", err)
		}
		<-waited
	}
}

func dropPrivileges() error {
	uid := syscall.Getuid()
	euid := syscall.Geteuid()
	if uid == euid {
		log.Printf("Privilege drop impossible: uid (%d) = euid (%d)", uid, euid)
		return nil
	}

	if err := syscall.Setuid(uid); err != nil {
		return errors.New("setuid: " + err.Error())
	}
	if syscall.Getuid() != syscall.Geteuid() {
		return errors.New("failed to drop privileges: uid != euid after setuid")
	}
	if err := syscall.Seteuid(0); err == nil {
		return errors.New("unexpectedly able to regain root")
	}
	if syscall.Getuid() != syscall.Geteuid() {
		return errors.New("failed to drop privileges: uid != euid after seteuid check")
	}
	return nil
}
