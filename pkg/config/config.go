// Package config provides the configuration for datahub's scrape and
// merge workflow. A Config is assembled either programmatically through
// the builder-style WithX setters or loaded from a YAML file with
// environment variable substitution.
package config

import (
	"time"

	"github.com/egostrategy/datahub/pkg/errors"
)

// DefaultMaxHistory is the bound on retained daily records per stock.
const DefaultMaxHistory = 200

// Config holds the caller-facing settings consumed by the data service
// and the scrapers.
type Config struct {
	// DebugMode restricts a run to the first DebugStockLimit stocks per
	// exchange. Purely a scrape-side concern.
	DebugMode       bool  
	DebugStockLimit int   
	DataDir         string

	// MaxHistory bounds the retained daily records per stock. Histories
	// are truncated to the most recent MaxHistory records after every
	// merge.
	MaxHistory int

	// ForceFullHistory makes every merge take the full-replace path even
	// for stocks that already carry history.
	ForceFullHistory bool

	// Scraper settings
	RequestTimeout    time.Duration
	RequestsPerSecond float64      
	UserAgent         string       

	// MirrorSites are tried in order when syncing the persisted file
	// from a remote copy.
	MirrorSites []string
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		DebugMode:         false,
		DebugStockLimit:   10,
		DataDir:           "data",
		MaxHistory:        DefaultMaxHistory,
		ForceFullHistory:  false,
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 2,
		UserAgent:         "datahub/1.0",
		MirrorSites: []string{
			"raw.githubusercontent.com",
			"raw.bgithub.xyz",
			"raw.staticdn.net",
		},
	}
}

// WithDebugMode enables or disables debug mode.
func (c *Config) WithDebugMode(debug bool) *Config {
	c.DebugMode = debug
	return c
}

// WithDebugStockLimit caps the number of stocks processed per exchange
// when debug mode is on.
func (c *Config) WithDebugStockLimit(limit int) *Config {
	c.DebugStockLimit = limit
	return c
}

// WithDataDir sets the directory holding the persisted dataset file.
func (c *Config) WithDataDir(dir string) *Config {
	c.DataDir = dir
	return c
}

// WithMaxHistory sets the per-stock retained record bound.
func (c *Config) WithMaxHistory(max int) *Config {
	c.MaxHistory = max
	return c
}

// WithForceFullHistory forces the full-replace merge path.
func (c *Config) WithForceFullHistory(force bool) *Config {
	c.ForceFullHistory = force
	return c
}

// Validate checks the configuration for values the rest of the system
// cannot operate with.
func (c *Config) Validate() error {
	if c.MaxHistory <= 0 {
		return errors.Newf(errors.ErrorTypeConfig, "max_history must be positive, got %d", c.MaxHistory)
	}
	if c.DebugMode && c.DebugStockLimit <= 0 {
		return errors.Newf(errors.ErrorTypeConfig, "debug_stock_limit must be positive in debug mode, got %d", c.DebugStockLimit)
	}
	if c.DataDir == "" {
		return errors.New(errors.ErrorTypeConfig, "data_dir must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "request_timeout must be positive")
	}
	if c.RequestsPerSecond <= 0 {
		return errors.New(errors.ErrorTypeConfig, "requests_per_second must be positive")
	}
	return nil
}
