package mirror

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultCompletionPercent is the completion threshold applied when none is given.
const DefaultCompletionPercent = 100

// FilterOptions selects which mirrors survive Filter. The zero value keeps
// every active mirror with any completion; use DefaultFilterOptions for the
// command-line defaults.
type FilterOptions struct {
	// IncludeInactive disables the otherwise unconditional active filter.
	IncludeInactive bool

	// Age keeps mirrors that synchronized within the last Age hours.
	Age *float64
	// Delay keeps mirrors whose reported delay is at most Delay hours.
	Delay *float64

	Include *regexp.Regexp
	Exclude *regexp.Regexp

	// Protocols restricts the result to these protocols. Empty means all.
	Protocols []Protocol
	// Countries matches a country name or code, case-insensitively. Empty means all.
	Countries []string

	CompletionPercent int

	ISOs bool
	IPv4 bool
	IPv6 bool
}

// DefaultFilterOptions returns the options used when no filter flag is given.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{CompletionPercent: DefaultCompletionPercent}
}

// Validate rejects option values that no mirror could be compared against.
func (o FilterOptions) Validate() error {
	if o.CompletionPercent < 0 || o.CompletionPercent > 100 {
		return fmt.Errorf("%w: completion percent %d must be between 0 and 100", ErrInvalidArgument, o.CompletionPercent)
	}
	if o.Age != nil && *o.Age < 0 {
		return fmt.Errorf("%w: age %v must not be negative", ErrInvalidArgument, *o.Age)
	}
	if o.Delay != nil && *o.Delay < 0 {
		return fmt.Errorf("%w: delay %v must not be negative", ErrInvalidArgument, *o.Delay)
	}
	for _, p := range o.Protocols {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown protocol %q", ErrInvalidArgument, p)
		}
	}
	return nil
}

// CompilePattern compiles a user-supplied url pattern. An empty pattern
// yields a nil regexp, meaning the filter is off.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidArgument, pattern, err)
	}
	return re, nil
}

// predicate decides whether a single mirror survives one filter.
type predicate func(m *Mirror) bool

// predicates returns the enabled filters in their canonical order, active first.
func (o FilterOptions) predicates(now time.Time) []predicate {
	var ps []predicate

	if !o.IncludeInactive {
		ps = append(ps, func(m *Mirror) bool { return m.Active })
	}

	if o.Age != nil {
		maxAge := hours(*o.Age)
		ps = append(ps, func(m *Mirror) bool {
			return m.LastSync != nil && now.Sub(*m.LastSync) <= maxAge
		})
	}

	if o.Delay != nil {
		maxDelay := hours(*o.Delay)
		ps = append(ps, func(m *Mirror) bool {
			return m.Delay != nil && time.Duration(*m.Delay)*time.Second <= maxDelay
		})
	}

	if o.Include != nil {
		re := o.Include
		ps = append(ps, func(m *Mirror) bool { return re.MatchString(m.URL) })
	}
	if o.Exclude != nil {
		re := o.Exclude
		ps = append(ps, func(m *Mirror) bool { return !re.MatchString(m.URL) })
	}

	if len(o.Protocols) > 0 {
		allowed := make(map[Protocol]bool, len(o.Protocols))
		for _, p := range o.Protocols {
			allowed[p] = true
		}
		ps = append(ps, func(m *Mirror) bool { return allowed[m.Protocol] })
	}

	if len(o.Countries) > 0 {
		wanted := make(map[string]bool, len(o.Countries))
		for _, c := range o.Countries {
			wanted[strings.ToLower(strings.TrimSpace(c))] = true
		}
		ps = append(ps, func(m *Mirror) bool {
			return wanted[strings.ToLower(m.Country)] || wanted[strings.ToLower(m.CountryCode)]
		})
	}

	threshold := float64(o.CompletionPercent) / 100
	ps = append(ps, func(m *Mirror) bool { return m.CompletionPct >= threshold })

	if o.ISOs {
		ps = append(ps, func(m *Mirror) bool { return m.ISOs })
	}
	if o.IPv4 {
		ps = append(ps, func(m *Mirror) bool { return m.IPv4 })
	}
	if o.IPv6 {
		ps = append(ps, func(m *Mirror) bool { return m.IPv6 })
	}

	return ps
}

// Filter returns the mirrors that pass every enabled filter, in their
// original relative order. The input slice is not modified.
func Filter(mirrors []Mirror, opts FilterOptions, now time.Time) []Mirror {
	ps := opts.predicates(now)
	out := make([]Mirror, 0, len(mirrors))
	for i := range mirrors {
		if keep(&mirrors[i], ps) {
			out = append(out, mirrors[i])
		}
	}
	return out
}

func keep(m *Mirror, ps []predicate) bool {
	for _, p := range ps {
		if !p(m) {
			return false
		}
	}
	return true
}

func hours(n float64) time.Duration {
	return time.Duration(n * float64(time.Hour))
}
