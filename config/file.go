// Package config loads the crawler's YAML configuration file and applies
// environment overrides and defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pevans/newscrawl/discovery"
	"github.com/pevans/newscrawl/logger"
	"github.com/pevans/newscrawl/scraper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "newscrawl.yaml"
	DefaultOutputDir  = "scraped_mf"
	DefaultLedgerDSN  = "newscrawl.db"
	DefaultListenAddr = ":8080"
)

var ErrInvalidDelay = errors.New("delay min must be non-negative and not exceed max")

// Environment variables that override file values.
const (
	EnvOutputDir      = "NEWSCRAWL_OUTPUT_DIR"
	EnvLedgerDSN      = "NEWSCRAWL_LEDGER_DSN"
	EnvLogLevel       = "NEWSCRAWL_LOG_LEVEL"
	EnvLimitPerSource = "NEWSCRAWL_LIMIT_PER_SOURCE"
	EnvUserAgent      = "NEWSCRAWL_USER_AGENT"
	EnvRespectRobots  = "NEWSCRAWL_RESPECT_ROBOTS"
)

// FileConfig represents the structure of newscrawl.yaml.
type FileConfig struct {
	Sources []scraper.SourceConfig `yaml:"sources"`
	Crawl   CrawlConfig            `yaml:"crawl"`
	Storage StorageConfig          `yaml:"storage"`
	Server  ServerConfig           `yaml:"server"`
	Logging logger.Config          `yaml:"logging"`
}

// DelayRange is an inclusive range a pause is drawn uniformly from.
type DelayRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// CrawlConfig represents the crawl: section.
type CrawlConfig struct {
	LimitPerSource int           `yaml:"limit_per_source"`
	LinkDelay      *DelayRange   `yaml:"link_delay"`
	SourceDelay    *DelayRange   `yaml:"source_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryWait      time.Duration `yaml:"retry_wait"`
	UserAgent      string        `yaml:"user_agent"`
	RespectRobots  *bool         `yaml:"respect_robots"`
}

// StorageConfig represents the storage: section.
type StorageConfig struct {
	OutputDir string `yaml:"output_dir"`
	LedgerDSN string `yaml:"ledger_dsn"`
}

// ServerConfig represents the server: section.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the config file at path, applies environment overrides from
// the process environment, fills defaults and validates the result.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML without applying environment or defaults. Unknown keys
// are rejected so typos in selector names don't go unnoticed.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with any set environment variables.
func (c *FileConfig) ApplyEnv(getenv func(string) string) error {
	if val := getenv(EnvOutputDir); val != "" {
		c.Storage.OutputDir = val
	}
	if val := getenv(EnvLedgerDSN); val != "" {
		c.Storage.LedgerDSN = val
	}
	if val := getenv(EnvLogLevel); val != "" {
		c.Logging.Level = val
	}
	if val := getenv(EnvUserAgent); val != "" {
		c.Crawl.UserAgent = val
	}
	if val := getenv(EnvLimitPerSource); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer, got %q", EnvLimitPerSource, val)
		}
		c.Crawl.LimitPerSource = n
	}
	if val := getenv(EnvRespectRobots); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", EnvRespectRobots, val)
		}
		c.Crawl.RespectRobots = &b
	}
	return nil
}

// SetDefaults fills every unset value.
func (c *FileConfig) SetDefaults() {
	defaults := discovery.DefaultCrawlConfig()

	if c.Crawl.LimitPerSource <= 0 {
		c.Crawl.LimitPerSource = defaults.LimitPerSource
	}
	if c.Crawl.LinkDelay == nil {
		c.Crawl.LinkDelay = &DelayRange{Min: defaults.LinkDelayMin, Max: defaults.LinkDelayMax}
	}
	if c.Crawl.SourceDelay == nil {
		c.Crawl.SourceDelay = &DelayRange{Min: defaults.SourceDelayMin, Max: defaults.SourceDelayMax}
	}
	if c.Crawl.Timeout <= 0 {
		c.Crawl.Timeout = discovery.DefaultTimeout
	}
	if c.Crawl.MaxAttempts <= 0 {
		c.Crawl.MaxAttempts = discovery.DefaultMaxAttempts
	}
	if c.Crawl.RetryWait <= 0 {
		c.Crawl.RetryWait = discovery.DefaultRetryWait
	}
	if c.Crawl.UserAgent == "" {
		c.Crawl.UserAgent = discovery.DefaultUserAgent
	}
	if c.Crawl.RespectRobots == nil {
		respect := true
		c.Crawl.RespectRobots = &respect
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = DefaultOutputDir
	}
	if c.Storage.LedgerDSN == "" {
		c.Storage.LedgerDSN = DefaultLedgerDSN
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultListenAddr
	}
	c.Logging.SetDefaults()
}

// Validate checks pacing ranges and the source list.
func (c *FileConfig) Validate() error {
	for name, r := range map[string]*DelayRange{"link_delay": c.Crawl.LinkDelay, "source_delay": c.Crawl.SourceDelay} {
		if r != nil && (r.Min < 0 || r.Max < r.Min) {
			return fmt.Errorf("crawl.%s: %w", name, ErrInvalidDelay)
		}
	}

	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Registry builds the source registry from the sources: list.
func (c *FileConfig) Registry() (*scraper.Registry, error) {
	registry, err := scraper.NewRegistry(c.Sources)
	if err != nil {
		return nil, fmt.Errorf("invalid sources: %w", err)
	}
	return registry, nil
}

// FetcherConfig returns the settings for discovery.NewFetcher.
func (c *FileConfig) FetcherConfig() discovery.FetcherConfig {
	return discovery.FetcherConfig{
		UserAgent:     c.Crawl.UserAgent,
		Timeout:       c.Crawl.Timeout,
		MaxAttempts:   c.Crawl.MaxAttempts,
		RetryWait:     c.Crawl.RetryWait,
		RespectRobots: c.Crawl.RespectRobots == nil || *c.Crawl.RespectRobots,
	}
}

// CrawlerConfig returns the settings for discovery.NewCrawler.
func (c *FileConfig) CrawlerConfig() discovery.CrawlConfig {
	cfg := discovery.DefaultCrawlConfig()
	if c.Crawl.LimitPerSource > 0 {
		cfg.LimitPerSource = c.Crawl.LimitPerSource
	}
	if c.Crawl.LinkDelay != nil {
		cfg.LinkDelayMin, cfg.LinkDelayMax = c.Crawl.LinkDelay.Min, c.Crawl.LinkDelay.Max
	}
	if c.Crawl.SourceDelay != nil {
		cfg.SourceDelayMin, cfg.SourceDelayMax = c.Crawl.SourceDelay.Min, c.Crawl.SourceDelay.Max
	}
	return cfg
}
