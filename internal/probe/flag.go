package probe

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// byName maps the CLI's lowercase protocol tokens to Protocol values, per
// spec §6's `-r, --protocols` flag.
var byName = map[string]Protocol{
	"ssh":    SSH,
	"ftp":    FTP,
	"smtp":   SMTP,
	"pop3":   POP3,
	"imap":   IMAP,
	"telnet": TELNET,
	"http":   HTTP,
	"https":  HTTPS,
	"dns":    DNS,
}

// ListValue is a pflag.Value for a comma-separated protocol list, the
// protocol-list analogue of the teacher's backend.FlagP flagValue for
// backend names.
type ListValue []Protocol

// String implements pflag.Value.
func (l *ListValue) String() string {
	if l == nil || len(*l) == 0 {
		return ""
	}
	names := make([]string, len(*l))
	for i, p := range *l {
		names[i] = strings.ToLower(string(p))
	}
	return strings.Join(names, ",")
}

// Set implements pflag.Value. It accepts a comma-separated list of protocol
// names (case-insensitive) and errors on any name outside the closed set.
func (l *ListValue) Set(s string) error {
	var protos []Protocol
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		p, ok := byName[tok]
		if !ok {
			return fmt.Errorf("invalid protocol %q", tok)
		}
		protos = append(protos, p)
	}
	*l = protos
	return nil
}

// Type implements pflag.Value.
func (l *ListValue) Type() string {
	return "ssh|ftp|smtp|pop3|imap|telnet|http|https|dns[,...]"
}

// FlagP registers a comma-separated protocol-list flag, the way
// backend.FlagP registers a single backend-name flag.
func FlagP(name, shorthand, usage string) *ListValue {
	v := new(ListValue)
	pflag.VarP(v, name, shorthand, usage)
	return v
}

var _ pflag.Value = (*ListValue)(nil)
