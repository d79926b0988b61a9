package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/rflector/internal/cache"
	"github.com/BadgerOps/rflector/internal/config"
	"github.com/BadgerOps/rflector/internal/status"
	"github.com/BadgerOps/rflector/internal/store"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const envFile = ".env"

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	verbose   bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Config overrides
	statusURL       string
	connectTimeout  int
	downloadTimeout int
	cacheTimeout    int
	cacheDir        string
	requireCache    bool
	threads         int
	noHistory       bool

	// Global components
	globalStore *store.Store
)

// initializeComponents opens the history store when history is enabled.
// Only the history command treats an unusable store as fatal.
func initializeComponents(cmdName string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if !globalCfg.History.Enabled {
		return nil
	}

	st, err := store.New(globalCfg.History.DBPath, logger)
	if err != nil {
		if cmdName == "history" {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		logger.Warn("fetch history disabled", "path", globalCfg.History.DBPath, "error", err)
		return nil
	}
	globalStore = st
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"show":    true,
		"config":  true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rflector",
		Short: "Retrieve and filter the Arch Linux mirror list",
		Long: `rflector retrieves the Arch Linux mirror status report, filters and sorts
the mirrors it describes, and writes the result as a pacman mirrorlist.

The status report is cached on disk and only re-fetched once the cached copy
is older than --cache-timeout seconds.`,
		Example: `  rflector --latest 20 --protocol https --sort rate --save /etc/pacman.d/mirrorlist
  rflector --country Germany,France --age 12 --sort age
  rflector --info --number 5
  rflector --list-countries
  rflector history --limit 10`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			status.UserAgent = "rflector/" + version

			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if err := globalCfg.ApplyEnv(); err != nil {
				return fmt.Errorf("invalid environment: %w", err)
			}
			applyFlagOverrides(cmd, globalCfg)
			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger.Debug("config loaded", "path", cfgPath, "url", globalCfg.Status.URL, "cache_dir", globalCfg.Cache.Dir)

			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(cmd.Name()); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
		RunE: mirrorsRun,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	pf.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	pf.BoolVar(&verbose, "verbose", false, "print extra information (same as --log-level debug)")
	pf.StringVar(&statusURL, "url", status.DefaultURL, "URL of the mirror status JSON endpoint")
	pf.IntVar(&connectTimeout, "connection-timeout", 5, "seconds to wait for a server connection")
	pf.IntVar(&downloadTimeout, "download-timeout", 5, "seconds to wait for a download to complete")
	pf.IntVar(&cacheTimeout, "cache-timeout", 300, "seconds a cached mirror status stays fresh")
	pf.StringVar(&cacheDir, "cache-dir", "", "directory for the cached mirror status")
	pf.BoolVar(&requireCache, "require-cache", false, "fail when the mirror status cannot be cached")
	pf.BoolVar(&noHistory, "no-history", false, "do not record fetches in the history database")

	addMirrorFlags(cmd)

	cmd.AddCommand(
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// applyFlagOverrides copies explicitly set flags over config and
// environment values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Status.URL = statusURL
	}
	if flags.Changed("connection-timeout") {
		cfg.Status.ConnectTimeout = connectTimeout
	}
	if flags.Changed("download-timeout") {
		cfg.Status.DownloadTimeout = downloadTimeout
	}
	if flags.Changed("cache-timeout") {
		cfg.Cache.TTL = cacheTimeout
	}
	if flags.Changed("cache-dir") {
		cfg.Cache.Dir = cacheDir
	}
	if flags.Changed("require-cache") {
		cfg.Cache.RequireDurable = requireCache
	}
	if flags.Changed("threads") {
		cfg.Rating.Threads = threads
	}
	if noHistory {
		cfg.History.Enabled = false
	}
}

// newSnapshotProvider wires the fetcher, disk cache and history store.
func newSnapshotProvider(cfg *config.Config) *status.Provider {
	fetcher := status.NewFetcher(
		time.Duration(cfg.Status.ConnectTimeout)*time.Second,
		time.Duration(cfg.Status.DownloadTimeout)*time.Second,
		logger,
	)
	opts := status.ProviderOptions{
		CacheTTL:            time.Duration(cfg.Cache.TTL) * time.Second,
		RequireDurableCache: cfg.Cache.RequireDurable,
	}
	if globalStore != nil {
		opts.History = globalStore
	}
	return status.NewProvider(fetcher, cache.NewOS(cfg.Cache.Dir), opts, logger)
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}
