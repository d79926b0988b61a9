package mirror

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SortKey selects the ordering applied by Sort.
type SortKey string

const (
	SortNone    SortKey = ""
	SortAge     SortKey = "age"
	SortRate    SortKey = "rate"
	SortCountry SortKey = "country"
	SortScore   SortKey = "score"
	SortDelay   SortKey = "delay"
)

// SortKeys lists the keys accepted by ParseSortKey.
var SortKeys = []SortKey{SortAge, SortRate, SortCountry, SortScore, SortDelay}

// ParseSortKey parses a sort key name. The empty string means no sorting.
func ParseSortKey(s string) (SortKey, error) {
	k := SortKey(strings.ToLower(strings.TrimSpace(s)))
	if k == SortNone || slices.Contains(SortKeys, k) {
		return k, nil
	}
	return SortNone, fmt.Errorf("%w: unknown sort key %q", ErrInvalidArgument, s)
}

// Sort returns a stably sorted copy of mirrors. countryOrder is only used by
// SortCountry: mirrors are grouped in the given order of country names or
// codes, unlisted countries follow, and groups are ordered by name.
func Sort(mirrors []Mirror, key SortKey, countryOrder []string) []Mirror {
	out := slices.Clone(mirrors)

	switch key {
	case SortAge:
		slices.SortStableFunc(out, byLastSyncDesc)
	case SortRate:
		slices.SortStableFunc(out, func(a, b Mirror) int {
			return compareMissingLast(a.DurationAvg, b.DurationAvg)
		})
	case SortScore:
		slices.SortStableFunc(out, byScore)
	case SortDelay:
		slices.SortStableFunc(out, func(a, b Mirror) int {
			return compareMissingLast(a.Delay, b.Delay)
		})
	case SortCountry:
		rank := countryRanker(countryOrder)
		slices.SortStableFunc(out, func(a, b Mirror) int {
			if c := cmp.Compare(rank(a), rank(b)); c != 0 {
				return c
			}
			return strings.Compare(a.Country, b.Country)
		})
	}

	return out
}

func byLastSyncDesc(a, b Mirror) int {
	switch {
	case a.LastSync == nil && b.LastSync == nil:
		return 0
	case a.LastSync == nil:
		return 1
	case b.LastSync == nil:
		return -1
	}
	return compareTimeDesc(*a.LastSync, *b.LastSync)
}

func byScore(a, b Mirror) int {
	return compareMissingLast(a.Score, b.Score)
}

func compareTimeDesc(a, b time.Time) int {
	return b.Compare(a)
}

// compareMissingLast orders present values ascending and nil after them.
func compareMissingLast[T cmp.Ordered](a, b *T) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*a, *b)
}

func countryRanker(order []string) func(Mirror) int {
	ranks := make(map[string]int, len(order))
	for i, c := range order {
		k := strings.ToLower(strings.TrimSpace(c))
		if _, ok := ranks[k]; !ok {
			ranks[k] = i
		}
	}
	unlisted := len(order)
	return func(m Mirror) int {
		r, ok := ranks[strings.ToLower(m.Country)]
		if rc, okc := ranks[strings.ToLower(m.CountryCode)]; okc && (!ok || rc < r) {
			r, ok = rc, true
		}
		if !ok {
			return unlisted
		}
		return r
	}
}
