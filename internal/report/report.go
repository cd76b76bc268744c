// Package report writes the CSV summary collaborator named in spec §6: one
// row per (target, protocol) whose protocol_failures set is non-empty.
// Grounded on original_source/rust_backend/src/utils/reports.rs's
// append_summary_to_csv, translated from chrono/HashMap to
// encoding/csv/time.Time (see DESIGN.md for why stdlib encoding/csv, not a
// third-party CSV library, covers this).
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuoxod/netscan/internal/service"
)

// Header is the exact CSV header spec §6 names.
var Header = []string{"Timestamp", "Target", "Protocol", "FailCount", "Ports"}

// Row is one (target, protocol) failure-count summary row.
type Row struct {
	Timestamp time.Time
	Target    net.IP
	Protocol  string
	Ports     []int
}

// FailCount is the number of ports the protocol failed to identify on.
func (r Row) FailCount() int {
	return len(r.Ports)
}

// Rows aggregates a target's per-port service-detection results into one
// row per protocol with a non-empty protocol_failures set, matching
// reports.rs's protocol_counts HashMap aggregation.
func Rows(target net.IP, at time.Time, results []service.Result) []Row {
	ports := make(map[string][]int)
	for _, res := range results {
		for proto := range res.ProtocolFailures {
			ports[string(proto)] = append(ports[string(proto)], res.Port)
		}
	}

	var protos []string
	for proto := range ports {
		protos = append(protos, proto)
	}
	sort.Strings(protos)

	rows := make([]Row, 0, len(protos))
	for _, proto := range protos {
		portList := append([]int(nil), ports[proto]...)
		sort.Ints(portList)
		rows = append(rows, Row{Timestamp: at, Target: target, Protocol: proto, Ports: portList})
	}
	return rows
}

// Write appends rows to w as CSV, writing the header first. Callers
// appending to an existing file should write the header only once; Write
// always writes it, matching the append-with-header-per-call behavior of
// reports.rs's append_summary_to_csv (each call opens in append mode and
// rewrites the header line).
func Write(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %v", err)
	}
	for _, r := range rows {
		portStrs := make([]string, len(r.Ports))
		for i, p := range r.Ports {
			portStrs[i] = strconv.Itoa(p)
		}
		record := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Target.String(),
			r.Protocol,
			strconv.Itoa(r.FailCount()),
			strings.Join(portStrs, ","),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %v", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
