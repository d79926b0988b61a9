package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/rflector/internal/mirror"
	"github.com/BadgerOps/rflector/internal/rating"
	"github.com/BadgerOps/rflector/internal/safety"
	"github.com/spf13/cobra"
)

var (
	// Filters
	filterAge             float64
	filterDelay           float64
	filterCountries       []string
	filterInclude         string
	filterExclude         string
	filterProtocols       []string
	filterCompletion      int
	filterISOs            bool
	filterIPv4            bool
	filterIPv6            bool
	filterIncludeInactive bool

	// Selection and output
	selectLatest  int
	selectScore   int
	selectNumber  int
	sortKey       string
	measure       bool
	showInfo      bool
	listCountries bool
	savePath      string
)

func addMirrorFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.Float64VarP(&filterAge, "age", "a", 0, "only return mirrors that synchronized in the last N hours")
	f.Float64Var(&filterDelay, "delay", 0, "only return mirrors with a reported sync delay of N hours or less")
	f.StringSliceVarP(&filterCountries, "country", "c", nil, "restrict to the given countries (names or codes, comma-separated)")
	f.StringVarP(&filterInclude, "include", "i", "", "only include mirrors whose URL matches this regular expression")
	f.StringVarP(&filterExclude, "exclude", "x", "", "exclude mirrors whose URL matches this regular expression")
	f.StringSliceVarP(&filterProtocols, "protocol", "p", nil, "restrict to the given protocols (ftp, http, https, rsync)")
	f.IntVar(&filterCompletion, "completion-percent", mirror.DefaultCompletionPercent, "minimum completion percentage (0-100)")
	f.BoolVar(&filterISOs, "isos", false, "only return mirrors that host ISOs")
	f.BoolVar(&filterIPv4, "ipv4", false, "only return mirrors that support IPv4")
	f.BoolVar(&filterIPv6, "ipv6", false, "only return mirrors that support IPv6")
	f.BoolVar(&filterIncludeInactive, "include-inactive", false, "keep mirrors the status report marks inactive")

	f.IntVarP(&selectLatest, "latest", "l", 0, "keep the N most recently synchronized mirrors")
	f.IntVar(&selectScore, "score", 0, "keep the N mirrors with the best score")
	f.IntVarP(&selectNumber, "number", "n", 0, "return at most N mirrors")
	f.StringVar(&sortKey, "sort", "", "sort by age, rate, country, score or delay")
	f.IntVar(&threads, "threads", 4, "number of concurrent probes with --measure")
	f.BoolVar(&measure, "measure", false, "download a probe file from each mirror and sort by transfer time")
	f.BoolVar(&showInfo, "info", false, "print mirror details instead of a mirrorlist")
	f.BoolVar(&listCountries, "list-countries", false, "list countries and their mirror counts")
	f.StringVar(&savePath, "save", "", "write the mirrorlist to this path instead of stdout")
}

// runOptions is the validated form of the mirror flags.
type runOptions struct {
	filter       mirror.FilterOptions
	latest       int
	score        int
	number       int
	sort         mirror.SortKey
	countryOrder []string
	measure      bool
	info         bool
	countries    bool
	save         string
}

// buildRunOptions parses and validates the mirror flags. It runs before
// any network access so bad input never costs a fetch.
func buildRunOptions(cmd *cobra.Command) (*runOptions, error) {
	flags := cmd.Flags()
	opts := &runOptions{
		filter:    mirror.DefaultFilterOptions(),
		latest:    selectLatest,
		score:     selectScore,
		number:    selectNumber,
		measure:   measure,
		info:      showInfo,
		countries: listCountries,
		save:      savePath,
	}

	if flags.Changed("age") {
		v := filterAge
		opts.filter.Age = &v
	}
	if flags.Changed("delay") {
		v := filterDelay
		opts.filter.Delay = &v
	}

	var err error
	if opts.filter.Include, err = mirror.CompilePattern(filterInclude); err != nil {
		return nil, err
	}
	if opts.filter.Exclude, err = mirror.CompilePattern(filterExclude); err != nil {
		return nil, err
	}
	if opts.filter.Protocols, err = mirror.ParseProtocols(filterProtocols); err != nil {
		return nil, err
	}
	if opts.sort, err = mirror.ParseSortKey(sortKey); err != nil {
		return nil, err
	}

	for _, c := range filterCountries {
		if c = strings.TrimSpace(c); c != "" {
			opts.filter.Countries = append(opts.filter.Countries, c)
		}
	}
	opts.countryOrder = opts.filter.Countries

	opts.filter.CompletionPercent = filterCompletion
	opts.filter.ISOs = filterISOs
	opts.filter.IPv4 = filterIPv4
	opts.filter.IPv6 = filterIPv6
	opts.filter.IncludeInactive = filterIncludeInactive

	if err := opts.filter.Validate(); err != nil {
		return nil, err
	}
	for _, c := range []struct {
		name string
		n    int
	}{{"latest", opts.latest}, {"score", opts.score}, {"number", opts.number}} {
		if c.n < 0 {
			return nil, fmt.Errorf("%w: --%s must not be negative, got %d", mirror.ErrInvalidArgument, c.name, c.n)
		}
	}
	if opts.save != "" && (opts.info || opts.countries) {
		return nil, fmt.Errorf("%w: --save writes a mirrorlist and cannot be combined with --info or --list-countries", mirror.ErrInvalidArgument)
	}

	return opts, nil
}

func mirrorsRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	opts, err := buildRunOptions(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	url := globalCfg.Status.URL

	res, err := newSnapshotProvider(globalCfg).Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to retrieve mirror status: %w", err)
	}
	logger.Info("mirror status loaded", "url", url, "origin", res.Origin, "mirrors", len(res.Snapshot.Mirrors))

	out := cmd.OutOrStdout()
	now := time.Now()

	if opts.countries {
		return mirror.WriteCountries(out, mirror.CountryCounts(res.Snapshot.Mirrors))
	}

	var rater *rating.Rater
	if opts.measure {
		rater = rating.NewRater(
			globalCfg.Rating.Threads,
			time.Duration(globalCfg.Rating.Timeout)*time.Second,
			globalCfg.Rating.ProbePath,
			logger,
		)
		rater.SetUserAgent("rflector/" + version)
	}

	mirrors := selectMirrors(ctx, res.Snapshot.Mirrors, opts, rater, now)
	logger.Info("mirrors selected", "count", len(mirrors))

	if opts.info {
		return mirror.WriteInfo(out, mirrors, now)
	}

	header := mirror.MirrorlistHeader{
		Command:     commandLine(),
		GeneratedAt: now,
		SourceURL:   url,
		Origin:      res.Origin,
		LastCheck:   res.Snapshot.LastCheck,
	}

	if opts.save == "" {
		return mirror.WriteMirrorlist(out, header, mirrors)
	}
	return saveMirrorlist(opts.save, header, mirrors)
}

// selectMirrors runs the filter, selection and sort stages in order. rater
// may be nil.
func selectMirrors(ctx context.Context, mirrors []mirror.Mirror, opts *runOptions, rater *rating.Rater, now time.Time) []mirror.Mirror {
	mirrors = mirror.Filter(mirrors, opts.filter, now)
	if opts.latest > 0 {
		mirrors = mirror.MostRecent(mirrors, opts.latest)
	}
	if opts.score > 0 {
		mirrors = mirror.BestScore(mirrors, opts.score)
	}
	mirrors = mirror.Sort(mirrors, opts.sort, opts.countryOrder)

	if rater != nil {
		results := rater.Rate(ctx, mirrors)
		mirrors = mirror.Sort(rating.Apply(mirrors, results), mirror.SortRate, nil)
	}

	return mirror.Limit(mirrors, opts.number)
}

func saveMirrorlist(path string, header mirror.MirrorlistHeader, mirrors []mirror.Mirror) error {
	var buf bytes.Buffer
	if err := mirror.WriteMirrorlist(&buf, header, mirrors); err != nil {
		return err
	}
	if err := safety.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save mirrorlist: %w", err)
	}
	logger.Info("mirrorlist saved", "path", path, "mirrors", len(mirrors))
	return nil
}

func commandLine() string {
	return strings.Join(append([]string{"rflector"}, os.Args[1:]...), " ")
}
