package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/rflector/internal/cache"
	"github.com/BadgerOps/rflector/internal/mirror"
	"github.com/BadgerOps/rflector/internal/store"
)

// DefaultCacheTTL is how long a cached snapshot stays fresh.
const DefaultCacheTTL = 300 * time.Second

// SnapshotFetcher retrieves a snapshot from the network.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, url string) (*mirror.Snapshot, error)
}

// HistoryRecorder receives one record per acquisition.
type HistoryRecorder interface {
	RecordFetch(rec *store.FetchRecord) error
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	CacheTTL time.Duration
	// RequireDurableCache makes a failed cache write fatal.
	RequireDurableCache bool
	// History is optional.
	History HistoryRecorder
}

// Result is a snapshot together with where it came from.
type Result struct {
	Snapshot *mirror.Snapshot
	Origin   string // store.OriginCache or store.OriginNetwork
	// CachedAt is the cache file time for cache hits and the fetch time otherwise.
	CachedAt time.Time
}

// Provider returns fresh snapshots, fetching only when the cached copy is
// missing, stale or unreadable.
type Provider struct {
	fetcher SnapshotFetcher
	cache   *cache.Cache
	opts    ProviderOptions
	logger  *slog.Logger
	now     func() time.Time
}

// NewProvider creates a provider. A negative CacheTTL uses DefaultCacheTTL;
// zero makes every cached entry stale.
func NewProvider(fetcher SnapshotFetcher, c *cache.Cache, opts ProviderOptions, logger *slog.Logger) *Provider {
	if opts.CacheTTL < 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return &Provider{
		fetcher: fetcher,
		cache:   c,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the snapshot for url. A cache hit makes no network call; a
// miss makes exactly one and writes the result back to the cache.
func (p *Provider) Get(ctx context.Context, url string) (*Result, error) {
	key := cache.Key(url)

	if snap, entry, ok := p.readCache(key, url); ok {
		p.record(&store.FetchRecord{
			SourceURL:   url,
			FetchedAt:   p.now(),
			Origin:      store.OriginCache,
			MirrorCount: len(snap.Mirrors),
			LastCheck:   snap.LastCheck,
		})
		return &Result{Snapshot: snap, Origin: store.OriginCache, CachedAt: entry.ModTime}, nil
	}

	start := p.now()
	snap, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		p.record(&store.FetchRecord{
			SourceURL:    url,
			FetchedAt:    start,
			Origin:       store.OriginNetwork,
			Duration:     p.now().Sub(start),
			ErrorMessage: err.Error(),
		})
		return nil, err
	}
	p.record(&store.FetchRecord{
		SourceURL:   url,
		FetchedAt:   start,
		Origin:      store.OriginNetwork,
		MirrorCount: len(snap.Mirrors),
		LastCheck:   snap.LastCheck,
		Duration:    p.now().Sub(start),
	})

	if err := p.writeCache(key, snap); err != nil {
		if p.opts.RequireDurableCache {
			return nil, err
		}
		p.logger.Warn("could not cache mirror status, continuing", "url", url, "error", err)
	}

	return &Result{Snapshot: snap, Origin: store.OriginNetwork, CachedAt: start}, nil
}

// readCache returns the cached snapshot when it is present, fresh and
// decodable. A corrupt entry is treated as expired.
func (p *Provider) readCache(key, url string) (*mirror.Snapshot, *cache.Entry, bool) {
	entry, err := p.cache.Read(key)
	if err != nil {
		p.logger.Debug("mirror status not cached", "url", url, "path", p.cache.Path(key))
		return nil, nil, false
	}
	if p.cache.IsExpired(entry, p.opts.CacheTTL) {
		p.logger.Debug("cached mirror status expired", "url", url, "modified", entry.ModTime, "ttl", p.opts.CacheTTL)
		return nil, nil, false
	}

	snap, err := Decode(entry.Data)
	if err != nil {
		perr := &ParseError{Source: p.cache.Path(key), Err: err}
		p.logger.Warn("ignoring unreadable cached mirror status", "error", perr)
		return nil, nil, false
	}

	p.logger.Debug("using cached mirror status", "url", url, "modified", entry.ModTime)
	return snap, entry, true
}

func (p *Provider) writeCache(key string, snap *mirror.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return p.cache.Write(key, data)
}

func (p *Provider) record(rec *store.FetchRecord) {
	if p.opts.History == nil {
		return
	}
	if err := p.opts.History.RecordFetch(rec); err != nil {
		p.logger.Warn("failed to record fetch history", "url", rec.SourceURL, "error", err)
	}
}
