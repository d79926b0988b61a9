package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BadgerOps/rflector/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyPrune time.Duration
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent mirror status fetches",
		Long: `Show the fetch history recorded in the history database. Each entry
records whether the mirror status came from the disk cache or the network,
how many mirrors it listed and any error.

Use --prune-older-than to delete old entries before listing.`,
		Example: `  rflector history
  rflector history --limit 5
  rflector history --url https://archlinux.org/mirrors/status/json/
  rflector history --prune-older-than 720h`,
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show (0 for all)")
	cmd.Flags().DurationVar(&historyPrune, "prune-older-than", 0, "delete entries older than this duration first")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalStore == nil {
		return fmt.Errorf("fetch history is disabled")
	}

	now := time.Now()
	if historyPrune > 0 {
		n, err := globalStore.PruneFetches(now.Add(-historyPrune))
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		logger.Info("pruned fetch history", "deleted", n, "older_than", historyPrune)
	}

	var sourceURL string
	if cmd.Flags().Changed("url") {
		sourceURL = globalCfg.Status.URL
	}

	records, err := globalStore.ListFetches(sourceURL, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No fetches recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-8s %8s %10s %-16s %s\n", "Fetched", "Origin", "Mirrors", "Duration", "Last Check", "Source")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, r := range records {
		fmt.Fprintf(out, "%-20s %-8s %8s %10s %-16s %s\n",
			humanize.RelTime(r.FetchedAt, now, "ago", "from now"),
			r.Origin,
			mirrorCount(r),
			r.Duration.Round(time.Millisecond),
			lastCheck(r),
			r.SourceURL,
		)
		if r.Failed() {
			fmt.Fprintf(out, "  error: %s\n", r.ErrorMessage)
		}
	}
	return nil
}

func mirrorCount(r store.FetchRecord) string {
	if r.Failed() {
		return "-"
	}
	return humanize.Comma(int64(r.MirrorCount))
}

func lastCheck(r store.FetchRecord) string {
	if r.LastCheck.IsZero() {
		return "never"
	}
	return r.LastCheck.UTC().Format("2006-01-02 15:04")
}
