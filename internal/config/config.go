package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName names the config, cache and history locations.
const AppName = "rflector"

// Config is the top-level configuration
type Config struct {
	Status  StatusConfig  `yaml:"status"`
	Cache   CacheConfig   `yaml:"cache"`
	History HistoryConfig `yaml:"history"`
	Rating  RatingConfig  `yaml:"rating"`
}

// StatusConfig describes the mirror status endpoint
type StatusConfig struct {
	URL             string `yaml:"url"`
	ConnectTimeout  int    `yaml:"connect_timeout"`  // seconds
	DownloadTimeout int    `yaml:"download_timeout"` // seconds
}

// CacheConfig holds snapshot cache settings
type CacheConfig struct {
	Dir            string `yaml:"dir"`
	TTL            int    `yaml:"ttl"` // seconds
	RequireDurable bool   `yaml:"require_durable"`
}

// HistoryConfig holds fetch history settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// RatingConfig holds mirror rating settings
type RatingConfig struct {
	Threads   int    `yaml:"threads"`
	Timeout   int    `yaml:"timeout"` // seconds per probe
	ProbePath string `yaml:"probe_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cacheDir := DefaultCacheDir()
	return &Config{
		Status: StatusConfig{
			URL:             "https://archlinux.org/mirrors/status/json/",
			ConnectTimeout:  5,
			DownloadTimeout: 5,
		},
		Cache: CacheConfig{
			Dir: cacheDir,
			TTL: 300,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(cacheDir, "history.db"),
		},
		Rating: RatingConfig{
			Threads:   4,
			Timeout:   5,
			ProbePath: "core/os/x86_64/core.db",
		},
	}
}

// DefaultCacheDir returns the platform cache directory for rflector.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName)
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		AppName + ".yaml",
		filepath.Join("/etc", AppName, AppName+".yaml"),
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", AppName, AppName+".yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Environment variables that override the config file.
const (
	EnvURL          = "RFLECTOR_URL"
	EnvCacheDir     = "RFLECTOR_CACHE_DIR"
	EnvCacheTimeout = "RFLECTOR_CACHE_TIMEOUT"
	EnvHistoryDB    = "RFLECTOR_HISTORY_DB"
)

// LoadDotEnv loads variables from envFile into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(envFile string) error {
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", envFile, err)
	}
	return nil
}

// ApplyEnv overrides config values from RFLECTOR_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvURL); v != "" {
		c.Status.URL = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv(EnvCacheTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCacheTimeout, err)
		}
		c.Cache.TTL = n
	}
	if v := os.Getenv(EnvHistoryDB); v != "" {
		c.History.DBPath = v
	}
	return nil
}

// Validate checks the values that have no meaningful fallback
func (c *Config) Validate() error {
	if c.Status.URL == "" {
		return fmt.Errorf("status.url must not be empty")
	}
	if c.Status.ConnectTimeout <= 0 {
		return fmt.Errorf("status.connect_timeout must be positive, got %d", c.Status.ConnectTimeout)
	}
	if c.Status.DownloadTimeout <= 0 {
		return fmt.Errorf("status.download_timeout must be positive, got %d", c.Status.DownloadTimeout)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %d", c.Cache.TTL)
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must not be empty")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path must be set when history is enabled")
	}
	if c.Rating.Threads < 1 {
		return fmt.Errorf("rating.threads must be at least 1, got %d", c.Rating.Threads)
	}
	if c.Rating.Timeout <= 0 {
		return fmt.Errorf("rating.timeout must be positive, got %d", c.Rating.Timeout)
	}
	return nil
}
