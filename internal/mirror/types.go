package mirror

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidArgument marks a user-supplied option that cannot be used.
var ErrInvalidArgument = errors.New("invalid argument")

// Protocol is the access scheme a mirror is served over.
type Protocol string

const (
	ProtocolFTP   Protocol = "ftp"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolRsync Protocol = "rsync"
)

// Protocols lists every protocol the status endpoint reports.
var Protocols = []Protocol{ProtocolFTP, ProtocolHTTP, ProtocolHTTPS, ProtocolRsync}

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolFTP, ProtocolHTTP, ProtocolHTTPS, ProtocolRsync:
		return true
	}
	return false
}

// ParseProtocol parses a single protocol name, case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown protocol %q", ErrInvalidArgument, s)
	}
	return p, nil
}

// ParseProtocols parses protocol names. Each value may itself be a
// comma-separated list. Duplicates are dropped.
func ParseProtocols(values []string) ([]Protocol, error) {
	var out []Protocol
	seen := make(map[Protocol]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			p, err := ParseProtocol(part)
			if err != nil {
				return nil, err
			}
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Mirror is one mirror server's reported state.
type Mirror struct {
	URL            string     `json:"url"`
	Protocol       Protocol   `json:"protocol"`
	LastSync       *time.Time `json:"last_sync"`
	CompletionPct  float64    `json:"completion_pct"`
	Delay          *int       `json:"delay"` // seconds, as reported upstream
	DurationAvg    *float64   `json:"duration_avg"`
	DurationStddev *float64   `json:"duration_stddev"`
	Score          *float64   `json:"score"`
	Active         bool       `json:"active"`
	Country        string     `json:"country"`
	CountryCode    string     `json:"country_code"`
	ISOs           bool       `json:"isos"`
	IPv4           bool       `json:"ipv4"`
	IPv6           bool       `json:"ipv6"`
	Details        string     `json:"details"`
}

// Snapshot is one retrieval of the whole mirror set.
type Snapshot struct {
	Cutoff         int       `json:"cutoff"`
	LastCheck      time.Time `json:"last_check"`
	NumChecks      int       `json:"num_checks"`
	CheckFrequency int       `json:"check_frequency"`
	Mirrors        []Mirror  `json:"urls"`
	Version        int       `json:"version"`
}

// Validate checks the invariants every snapshot must satisfy.
func (s *Snapshot) Validate() error {
	for i, m := range s.Mirrors {
		if !m.Protocol.Valid() {
			return fmt.Errorf("mirror %d (%s): unknown protocol %q", i, m.URL, m.Protocol)
		}
		if m.CompletionPct < 0 || m.CompletionPct > 1 {
			return fmt.Errorf("mirror %d (%s): completion_pct %v out of range", i, m.URL, m.CompletionPct)
		}
		if m.LastSync != nil && !s.LastCheck.IsZero() && m.LastSync.After(s.LastCheck) {
			return fmt.Errorf("mirror %d (%s): last_sync %s is after last_check %s",
				i, m.URL, m.LastSync.Format(time.RFC3339), s.LastCheck.Format(time.RFC3339))
		}
		if m.Delay != nil && *m.Delay < 0 {
			return fmt.Errorf("mirror %d (%s): negative delay", i, m.URL)
		}
	}
	return nil
}

// URLs returns the url of every mirror, in order.
func URLs(mirrors []Mirror) []string {
	out := make([]string, len(mirrors))
	for i, m := range mirrors {
		out[i] = m.URL
	}
	return out
}
