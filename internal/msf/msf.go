// Package msf suggests Metasploit modules for discovered services. It is a
// pure consumer of service-detection results (spec §1: "treated only as a
// consumer of service results") grounded on
// original_source/metasploit_tools/src/suggest.rs's ServiceInfo →
// ModuleSuggestion mapping, carried here as a static lookup table rather
// than the Rust stub's always-empty placeholder.
package msf

import "strings"

// ServiceInfo is one identified service, the Go analogue of suggest.rs's
// ServiceInfo struct.
type ServiceInfo struct {
	Port    int
	Service string
	Banner  string
}

// Suggestion is one suggested module, matching spec §6's JSON shape
// {port, service, module}.
type Suggestion struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
	Module  string `json:"module"`
}

// table maps a protocol name (as set by service.Detect, e.g. "SSH") to a
// representative Metasploit module path. It is intentionally small and
// static: spec §1 calls this table "trivial".
var table = map[string]string{
	"SSH":    "auxiliary/scanner/ssh/ssh_version",
	"FTP":    "auxiliary/scanner/ftp/ftp_version",
	"SMTP":   "auxiliary/scanner/smtp/smtp_version",
	"POP3":   "auxiliary/scanner/pop3/pop3_version",
	"IMAP":   "auxiliary/scanner/imap/imap_version",
	"TELNET": "auxiliary/scanner/telnet/telnet_version",
	"HTTP":   "auxiliary/scanner/http/http_version",
	"HTTPS":  "auxiliary/scanner/http/ssl_version",
	"DNS":    "auxiliary/gather/dns_info",
}

// Suggest maps each identified service to a module suggestion. Services
// with no table entry (an "Unknown Service" or "Banner: ..." result) are
// skipped, not errored: this is a best-effort enrichment, not a required
// identification.
func Suggest(services []ServiceInfo) []Suggestion {
	var out []Suggestion
	for _, s := range services {
		module, ok := lookup(s.Service)
		if !ok {
			continue
		}
		out = append(out, Suggestion{Port: s.Port, Service: s.Service, Module: module})
	}
	return out
}

func lookup(service string) (string, bool) {
	module, ok := table[service]
	if ok {
		return module, true
	}
	// A banner-derived service name ("Banner: vsftpd 3.0.3") still carries a
	// recognizable protocol keyword sometimes; check case-insensitively
	// against each table key as a substring before giving up.
	upper := strings.ToUpper(service)
	for name, module := range table {
		if strings.Contains(upper, name) {
			return module, true
		}
	}
	return "", false
}
