package mirror

import "slices"

// MostRecent returns the n most recently synchronized mirrors, newest first.
// Mirrors that never synchronized count as the oldest. n <= 0 disables the
// selection and returns a copy of the input.
func MostRecent(mirrors []Mirror, n int) []Mirror {
	out := slices.Clone(mirrors)
	if n <= 0 {
		return out
	}
	slices.SortStableFunc(out, byLastSyncDesc)
	return truncate(out, n)
}

// BestScore returns the n mirrors with the lowest score. Mirrors without a
// score rank after every scored mirror.
func BestScore(mirrors []Mirror, n int) []Mirror {
	out := slices.Clone(mirrors)
	if n <= 0 {
		return out
	}
	slices.SortStableFunc(out, byScore)
	return truncate(out, n)
}

// Limit returns the first n mirrors without reordering.
func Limit(mirrors []Mirror, n int) []Mirror {
	out := slices.Clone(mirrors)
	if n <= 0 {
		return out
	}
	return truncate(out, n)
}

func truncate(mirrors []Mirror, n int) []Mirror {
	if n < len(mirrors) {
		return mirrors[:n:n]
	}
	return mirrors
}
