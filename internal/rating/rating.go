// Package rating measures how quickly each mirror serves a small probe file.
package rating

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/rflector/internal/mirror"
	"github.com/BadgerOps/rflector/internal/safety"
)

const (
	// DefaultProbePath is fetched relative to each mirror URL.
	DefaultProbePath = "core/os/x86_64/core.db"

	defaultThreads = 4
	defaultTimeout = 5 * time.Second
)

// Result is the outcome of probing one mirror.
type Result struct {
	URL      string
	Duration time.Duration
	Bytes    int64
	// Skipped is set for mirrors that cannot be probed over HTTP.
	Skipped bool
	Error   string
}

// OK reports whether the probe produced a usable measurement.
func (r Result) OK() bool {
	return !r.Skipped && r.Error == ""
}

// Rater probes mirrors with a bounded number of concurrent downloads.
type Rater struct {
	client    *http.Client
	threads   int
	timeout   time.Duration
	probePath string
	userAgent string
	logger    *slog.Logger
}

// NewRater creates a rater. Non-positive threads or timeout fall back to
// defaults and an empty probePath uses DefaultProbePath.
func NewRater(threads int, timeout time.Duration, probePath string, logger *slog.Logger) *Rater {
	if threads < 1 {
		threads = defaultThreads
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if probePath == "" {
		probePath = DefaultProbePath
	}
	return &Rater{
		client:    safety.NewHTTPClient(timeout, timeout),
		threads:   threads,
		timeout:   timeout,
		probePath: strings.TrimPrefix(probePath, "/"),
		userAgent: "rflector",
		logger:    logger,
	}
}

// SetUserAgent overrides the User-Agent sent with each probe.
func (r *Rater) SetUserAgent(ua string) {
	r.userAgent = ua
}

// Rate probes every mirror and returns one result per mirror, in input
// order. Each worker writes only its own slot.
func (r *Rater) Rate(ctx context.Context, mirrors []mirror.Mirror) []Result {
	results := make([]Result, len(mirrors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.threads)

	for i, m := range mirrors {
		if m.Protocol == mirror.ProtocolRsync {
			results[i] = Result{URL: m.URL, Skipped: true}
			continue
		}
		i, m := i, m
		g.Go(func() error {
			results[i] = r.probe(gctx, m.URL)
			return nil
		})
	}

	// Probes never return errors, so Wait only joins the workers.
	_ = g.Wait()

	var ok int
	for _, res := range results {
		if res.OK() {
			ok++
		}
	}
	r.logger.Debug("rated mirrors", "total", len(mirrors), "measured", ok, "threads", r.threads)
	return results
}

func (r *Rater) probe(ctx context.Context, base string) Result {
	res := Result{URL: base}
	target := probeURL(base, r.probePath)

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("User-Agent", r.userAgent)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		res.Error = err.Error()
		r.logger.Debug("probe failed", "url", target, "error", err)
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		r.logger.Debug("probe failed", "url", target, "status", resp.StatusCode)
		return res
	}

	n, err := io.Copy(io.Discard, resp.Body)
	res.Duration = time.Since(start)
	res.Bytes = n
	if err != nil {
		res.Error = err.Error()
		r.logger.Debug("probe body failed", "url", target, "error", err)
		return res
	}

	r.logger.Debug("probed mirror", "url", target, "bytes", n, "duration", res.Duration)
	return res
}

func probeURL(base, path string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + path
}

// Apply returns a copy of mirrors with DurationAvg replaced by the measured
// download time in seconds. Failed probes clear the value; skipped mirrors
// keep what the status endpoint reported. results must come from Rate on the
// same slice.
func Apply(mirrors []mirror.Mirror, results []Result) []mirror.Mirror {
	out := make([]mirror.Mirror, len(mirrors))
	copy(out, mirrors)
	for i := range out {
		if i >= len(results) {
			break
		}
		res := results[i]
		switch {
		case res.Skipped:
		case res.OK():
			secs := res.Duration.Seconds()
			out[i].DurationAvg = &secs
		default:
			out[i].DurationAvg = nil
		}
	}
	return out
}
