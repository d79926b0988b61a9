// Package status acquires mirror status snapshots, from the local cache when
// it is fresh and from the status endpoint otherwise.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BadgerOps/rflector/internal/mirror"
	"github.com/BadgerOps/rflector/internal/safety"
)

// DefaultURL is the upstream mirror status endpoint.
const DefaultURL = "https://archlinux.org/mirrors/status/json/"

const maxSnapshotBytes int64 = 64 * 1024 * 1024

// UserAgent is sent with every request.
var UserAgent = "rflector/dev"

// Fetcher retrieves and parses a snapshot with a single GET request.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher. connectTimeout bounds connection setup and
// downloadTimeout bounds the whole request.
func NewFetcher(connectTimeout, downloadTimeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: safety.NewHTTPClient(connectTimeout, downloadTimeout),
		logger: logger,
	}
}

// Fetch downloads the snapshot at url. It never retries.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*mirror.Snapshot, error) {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, fmt.Errorf("%w: status url: %v", mirror.ErrInvalidArgument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", mirror.ErrInvalidArgument, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	body, err := safety.ReadAllWithLimit(resp.Body, maxSnapshotBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, &ParseError{Source: url, Err: fmt.Errorf("response exceeded %d bytes: %w", maxSnapshotBytes, err)}
		}
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("reading response body: %w", err)}
	}

	snap, err := Decode(body)
	if err != nil {
		return nil, &ParseError{Source: url, Err: err}
	}

	f.logger.Debug("fetched mirror status", "url", url, "bytes", len(body),
		"mirrors", len(snap.Mirrors), "elapsed", time.Since(start))
	return snap, nil
}

// Decode parses and validates snapshot JSON.
func Decode(data []byte) (*mirror.Snapshot, error) {
	var snap mirror.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Encode renders a snapshot as the pretty-printed JSON stored in the cache.
func Encode(snap *mirror.Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}
