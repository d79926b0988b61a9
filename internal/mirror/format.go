package mirror

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// MirrorlistHeader describes where a generated mirrorlist came from.
type MirrorlistHeader struct {
	Command     string
	GeneratedAt time.Time
	SourceURL   string
	Origin      string
	LastCheck   time.Time
}

// WriteMirrorlist writes mirrors as a pacman mirrorlist. rsync mirrors are
// left out since pacman cannot download from them.
func WriteMirrorlist(w io.Writer, h MirrorlistHeader, mirrors []Mirror) error {
	var b strings.Builder

	b.WriteString("################################################################################\n")
	b.WriteString("# Generated by rflector\n")
	if h.Command != "" {
		fmt.Fprintf(&b, "# With:       %s\n", h.Command)
	}
	fmt.Fprintf(&b, "# When:       %s\n", h.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "# From:       %s\n", h.SourceURL)
	if h.Origin != "" {
		fmt.Fprintf(&b, "# Retrieved:  %s\n", h.Origin)
	}
	if !h.LastCheck.IsZero() {
		fmt.Fprintf(&b, "# Last Check: %s\n", h.LastCheck.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	b.WriteString("################################################################################\n\n")

	for _, m := range mirrors {
		if m.Protocol == ProtocolRsync {
			continue
		}
		u := m.URL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		fmt.Fprintf(&b, "Server = %s$repo/os/$arch\n", u)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteInfo writes every field of every mirror, one block per mirror.
func WriteInfo(w io.Writer, mirrors []Mirror, now time.Time) error {
	var b strings.Builder
	for i, m := range mirrors {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", m.URL)
		fmt.Fprintf(&b, "  protocol:        %s\n", m.Protocol)
		fmt.Fprintf(&b, "  country:         %s (%s)\n", m.Country, m.CountryCode)
		fmt.Fprintf(&b, "  active:          %t\n", m.Active)
		fmt.Fprintf(&b, "  completion:      %.1f%%\n", m.CompletionPct*100)
		if m.LastSync != nil {
			fmt.Fprintf(&b, "  last sync:       %s (%s)\n",
				m.LastSync.UTC().Format(time.RFC3339), humanize.RelTime(*m.LastSync, now, "ago", "from now"))
		} else {
			b.WriteString("  last sync:       never\n")
		}
		if m.Delay != nil {
			fmt.Fprintf(&b, "  delay:           %s\n", (time.Duration(*m.Delay) * time.Second).String())
		} else {
			b.WriteString("  delay:           unknown\n")
		}
		fmt.Fprintf(&b, "  duration avg:    %s\n", optionalFloat(m.DurationAvg, "s"))
		fmt.Fprintf(&b, "  duration stddev: %s\n", optionalFloat(m.DurationStddev, "s"))
		fmt.Fprintf(&b, "  score:           %s\n", optionalFloat(m.Score, ""))
		fmt.Fprintf(&b, "  isos:            %t\n", m.ISOs)
		fmt.Fprintf(&b, "  ipv4:            %t\n", m.IPv4)
		fmt.Fprintf(&b, "  ipv6:            %t\n", m.IPv6)
		if m.Details != "" {
			fmt.Fprintf(&b, "  details:         %s\n", m.Details)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func optionalFloat(v *float64, unit string) string {
	if v == nil {
		return "unknown"
	}
	return humanize.FormatFloat("#,###.###", *v) + unit
}

// CountryCount is the number of mirrors in one country.
type CountryCount struct {
	Country string
	Code    string
	Count   int
}

// CountryCounts tallies mirrors per country, ordered by country name.
func CountryCounts(mirrors []Mirror) []CountryCount {
	idx := make(map[string]int)
	var out []CountryCount
	for _, m := range mirrors {
		i, ok := idx[m.Country]
		if !ok {
			i = len(out)
			idx[m.Country] = i
			out = append(out, CountryCount{Country: m.Country, Code: m.CountryCode})
		}
		out[i].Count++
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Country < out[j].Country
	})
	return out
}

// WriteCountries writes a table of countries and their mirror counts.
func WriteCountries(w io.Writer, counts []CountryCount) error {
	width := len("Country")
	for _, c := range counts {
		if n := len(countryLabel(c)); n > width {
			width = n
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s %-4s %6s\n", width, "Country", "Code", "Count")
	b.WriteString(strings.Repeat("-", width+12) + "\n")
	for _, c := range counts {
		fmt.Fprintf(&b, "%-*s %-4s %6d\n", width, countryLabel(c), c.Code, c.Count)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// countryLabel names the country of c. The status endpoint leaves the
// country empty for geo-distributed mirrors.
func countryLabel(c CountryCount) string {
	if c.Country == "" {
		return "(worldwide)"
	}
	return c.Country
}
