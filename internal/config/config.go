// Package config handles contentvis configuration from YAML files.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level contentvis configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	BaseURL   string          `yaml:"base_url"`
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level"`
	Detective DetectiveConfig `yaml:"detective"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Sampler   SamplerConfig   `yaml:"sampler"`
}

// DetectiveConfig controls viewport grouping and the entry marker.
type DetectiveConfig struct {
	Breakpoints []int  `yaml:"breakpoints"`
	SampleSize  int    `yaml:"sample_size"`
	EntryClass  string `yaml:"entry_class"`
}

// HTTPConfig controls the HTTP surface.
type HTTPConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBody        int64         `yaml:"max_body"`
	StoreLockTTL   time.Duration `yaml:"store_lock_ttl"`
	// StoreLockTrusted lists the CIDR prefixes exempt from the store lock.
	// Default: loopback, so a local cvsample can seed every group at once.
	StoreLockTrusted []string `yaml:"store_lock_trusted"`
}

// MetricsConfig controls the SQLite timeseries buffer, the audit trail and
// the daemon heartbeat.
type MetricsConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetentionDays int           `yaml:"retention_days"`

	AuditBufferSize        int           `yaml:"audit_buffer_size"`
	AuditRetentionDays     int           `yaml:"audit_retention_days"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	HeartbeatRetentionDays int           `yaml:"heartbeat_retention_days"`
}

// SamplerConfig controls the headless browser used by cvsample.
type SamplerConfig struct {
	Remote     string        `yaml:"remote"`
	Stealth    bool          `yaml:"stealth"`
	Settle     time.Duration `yaml:"settle"`
	Height     int           `yaml:"height"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8087"
	}
	if c.DBPath == "" {
		c.DBPath = "data/contentvis.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Detective.Breakpoints) == 0 {
		c.Detective.Breakpoints = []int{480, 600, 782}
	}
	if c.Detective.SampleSize <= 0 {
		c.Detective.SampleSize = 3
	}
	if c.Detective.EntryClass == "" {
		c.Detective.EntryClass = "hentry"
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 4 << 20
	}
	if c.HTTP.StoreLockTTL == 0 {
		c.HTTP.StoreLockTTL = time.Minute
	}
	if c.HTTP.StoreLockTrusted == nil {
		c.HTTP.StoreLockTrusted = []string{"127.0.0.0/8", "::1/128"}
	}
	if c.Metrics.BufferSize <= 0 {
		c.Metrics.BufferSize = 100
	}
	if c.Metrics.FlushInterval <= 0 {
		c.Metrics.FlushInterval = 5 * time.Second
	}
	if c.Metrics.RetentionDays <= 0 {
		c.Metrics.RetentionDays = 30
	}
	if c.Metrics.AuditBufferSize <= 0 {
		c.Metrics.AuditBufferSize = 1000
	}
	if c.Metrics.AuditRetentionDays <= 0 {
		c.Metrics.AuditRetentionDays = 90
	}
	if c.Metrics.HeartbeatInterval <= 0 {
		c.Metrics.HeartbeatInterval = 15 * time.Second
	}
	if c.Metrics.HeartbeatRetentionDays <= 0 {
		c.Metrics.HeartbeatRetentionDays = 7
	}
	if c.Sampler.Settle <= 0 {
		c.Sampler.Settle = 2 * time.Second
	}
	if c.Sampler.Height <= 0 {
		c.Sampler.Height = 900
	}
	if c.Sampler.NavTimeout <= 0 {
		c.Sampler.NavTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if !slices.IsSorted(c.Detective.Breakpoints) {
		return fmt.Errorf("config: breakpoints must be ascending: %v", c.Detective.Breakpoints)
	}
	for i, b := range c.Detective.Breakpoints {
		if b <= 0 || (i > 0 && b == c.Detective.Breakpoints[i-1]) {
			return fmt.Errorf("config: invalid breakpoint %d", b)
		}
	}
	for _, p := range c.HTTP.StoreLockTrusted {
		if _, err := netip.ParsePrefix(p); err != nil {
			return fmt.Errorf("config: store_lock_trusted: %w", err)
		}
	}
	return nil
}
