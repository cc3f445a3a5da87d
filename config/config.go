package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// PollConfig controls the notification poll cycle.
type PollConfig struct {
	IntervalMS     int `yaml:"interval_ms"`
	MinIntervalMS  int `yaml:"min_interval_ms"`
	Concurrency    int `yaml:"concurrency"`
	FetchTimeoutMS int `yaml:"fetch_timeout_ms"`
	BatchLimit     int `yaml:"batch_limit"`
	SendDelayMinMS int `yaml:"send_delay_min_ms"`
	SendDelayMaxMS int `yaml:"send_delay_max_ms"`
}

// NotifyConfig controls which events get pushed and the per-chat defaults.
type NotifyConfig struct {
	IncludeRedeem    bool    `yaml:"include_redeem"`
	DefaultLanguage  string  `yaml:"default_language"`
	DefaultMinAmount float64 `yaml:"default_min_amount"`
}

// RetentionConfig bounds dedup memory and orphaned watermarks.
type RetentionConfig struct {
	RecentTxCap   int `yaml:"recent_tx_cap"`
	OrphanTTLDays int `yaml:"orphan_ttl_days"`
}

// UpstreamConfig points at the Polymarket data API.
type UpstreamConfig struct {
	DataAPIURL string `yaml:"data_api_url"`
	PageLimit  int    `yaml:"page_limit"`
}

// LiveConfig controls the optional live-activity websocket nudge.
type LiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// CacheConfig controls subscription cache hydration.
type CacheConfig struct {
	HydratePageSize int `yaml:"hydrate_page_size"`
}

// Config aggregates all app configuration knobs.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Poll      PollConfig      `yaml:"poll"`
	Notify    NotifyConfig    `yaml:"notify"`
	Retention RetentionConfig `yaml:"retention"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Live      LiveConfig      `yaml:"live"`
	Cache     CacheConfig     `yaml:"cache"`
}

// Load reads configuration from disk, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: 8082,
		},
		Poll: PollConfig{
			IntervalMS:     10000,
			MinIntervalMS:  1000,
			Concurrency:    8,
			FetchTimeoutMS: 8000,
			BatchLimit:     5,
			SendDelayMinMS: 100,
			SendDelayMaxMS: 200,
		},
		Notify: NotifyConfig{
			IncludeRedeem:    true,
			DefaultLanguage:  "en",
			DefaultMinAmount: 10,
		},
		Retention: RetentionConfig{
			RecentTxCap:   1000,
			OrphanTTLDays: 90,
		},
		Upstream: UpstreamConfig{
			DataAPIURL: "https://data-api.polymarket.com",
			PageLimit:  500,
		},
		Live: LiveConfig{
			Enabled: false,
			URL:     "wss://ws-live-data.polymarket.com",
		},
		Cache: CacheConfig{
			HydratePageSize: 500,
		},
	}
}

// applyDefaults sanitizes fields where zero is not a usable value. Load
// unmarshals on top of Default(), so this only catches explicit zeros.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}

	if c.Poll.IntervalMS == 0 {
		c.Poll.IntervalMS = def.Poll.IntervalMS
	}
	if c.Poll.MinIntervalMS == 0 {
		c.Poll.MinIntervalMS = def.Poll.MinIntervalMS
	}
	if c.Poll.Concurrency == 0 {
		c.Poll.Concurrency = def.Poll.Concurrency
	}
	if c.Poll.FetchTimeoutMS == 0 {
		c.Poll.FetchTimeoutMS = def.Poll.FetchTimeoutMS
	}
	if c.Poll.BatchLimit == 0 {
		c.Poll.BatchLimit = def.Poll.BatchLimit
	}
	// Send delays and the minimum amount are left alone: zero is a valid
	// setting for all three (no jitter, no threshold).

	if c.Notify.DefaultLanguage == "" {
		c.Notify.DefaultLanguage = def.Notify.DefaultLanguage
	}

	if c.Retention.RecentTxCap == 0 {
		c.Retention.RecentTxCap = def.Retention.RecentTxCap
	}
	if c.Retention.OrphanTTLDays == 0 {
		c.Retention.OrphanTTLDays = def.Retention.OrphanTTLDays
	}

	if c.Upstream.DataAPIURL == "" {
		c.Upstream.DataAPIURL = def.Upstream.DataAPIURL
	}
	if c.Upstream.PageLimit == 0 {
		c.Upstream.PageLimit = def.Upstream.PageLimit
	}

	if c.Live.URL == "" {
		c.Live.URL = def.Live.URL
	}

	if c.Cache.HydratePageSize == 0 {
		c.Cache.HydratePageSize = def.Cache.HydratePageSize
	}
}
