package store

import "time"

// Fetch origins recorded in the history.
const (
	OriginCache   = "cache"
	OriginNetwork = "network"
)

// FetchRecord is one snapshot acquisition: served from the cache, fetched
// from the network, or a failed fetch.
type FetchRecord struct {
	ID           int64
	SourceURL    string
	FetchedAt    time.Time
	Origin       string // "cache" or "network"
	MirrorCount  int
	LastCheck    time.Time // zero when the acquisition failed
	Duration     time.Duration
	ErrorMessage string
}

// Failed reports whether the acquisition failed.
func (r *FetchRecord) Failed() bool {
	return r.ErrorMessage != ""
}
