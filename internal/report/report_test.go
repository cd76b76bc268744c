package report

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/xuoxod/netscan/internal/probe"
	"github.com/xuoxod/netscan/internal/service"
)

func TestRowsAggregatesFailuresByProtocol(t *testing.T) {
	results := []service.Result{
		{Port: 22, ProtocolFailures: map[probe.Protocol]bool{probe.SSH: true}},
		{Port: 80, ProtocolFailures: map[probe.Protocol]bool{probe.SSH: true, probe.HTTP: true}},
	}
	rows := Rows(net.ParseIP("10.0.0.1"), time.Unix(0, 0), results)
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want 2", rows)
	}
	if rows[0].Protocol != "HTTP" || rows[1].Protocol != "SSH" {
		t.Errorf("protocols = %q, %q, want HTTP, SSH", rows[0].Protocol, rows[1].Protocol)
	}
	if rows[1].FailCount() != 2 {
		t.Errorf("SSH FailCount = %d, want 2", rows[1].FailCount())
	}
}

func TestRowsSkipsCleanResults(t *testing.T) {
	results := []service.Result{{Port: 22, ProtocolFailures: map[probe.Protocol]bool{}}}
	rows := Rows(net.ParseIP("10.0.0.1"), time.Unix(0, 0), results)
	if len(rows) != 0 {
		t.Errorf("rows = %v, want none", rows)
	}
}

func TestWriteProducesHeaderAndQuotedPorts(t *testing.T) {
	rows := []Row{{
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Target:    net.ParseIP("10.0.0.1"),
		Protocol:  "SSH",
		Ports:     []int{22, 2222},
	}}
	var buf strings.Builder
	if err := Write(&buf, rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "Timestamp,Target,Protocol,FailCount,Ports\n") {
		t.Errorf("missing header, got %q", out)
	}
	if !strings.Contains(out, `"22,2222"`) {
		t.Errorf("expected quoted ports list, got %q", out)
	}
	if !strings.Contains(out, "2026-01-02T03:04:05Z") {
		t.Errorf("expected RFC3339 timestamp, got %q", out)
	}
}
