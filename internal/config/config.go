// Package config loads and persists KiroProxy's configuration file and
// watches it for external edits.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SDKConfig holds outbound-connection settings shared by every HTTP client
// the proxy builds (upstream Kiro calls, OAuth refresh calls).
type SDKConfig struct {
	ProxyURL       string        `yaml:"proxy-url,omitempty"`
	RequestTimeout time.Duration `yaml:"request-timeout,omitempty"`
}

// RedisCacheConfig configures the optional Redis-backed stats/cache layer.
type RedisCacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// LogFileConfig configures on-disk log rotation via lumberjack. When Path
// is empty, logs go to stderr only.
type LogFileConfig struct {
	Path       string `yaml:"path,omitempty"`
	MaxSizeMB  int    `yaml:"max-size-mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty"`
	MaxAgeDays int    `yaml:"max-age-days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// LongContextConfig configures the Long-Context Governor.
type LongContextConfig struct {
	Strategy       string `yaml:"strategy,omitempty"` // auto-truncate | pre-estimate | smart-summary | error-retry
	TokenThreshold int    `yaml:"token-threshold,omitempty"`
	ReserveTokens  int    `yaml:"reserve-tokens,omitempty"`
}

// AccountEntry is one persisted upstream credential record.
type AccountEntry struct {
	ID           string `yaml:"id"`
	Label        string `yaml:"label,omitempty"`
	Provenance   string `yaml:"provenance"`
	AuthMethod   string `yaml:"auth-method"`
	AccessToken  string `yaml:"access-token"`
	RefreshToken string `yaml:"refresh-token,omitempty"`
	ProfileArn   string `yaml:"profile-arn,omitempty"`
	ExpiresAt    string `yaml:"expires-at,omitempty"`
	ClientID     string `yaml:"client-id,omitempty"`
	ClientSecret string `yaml:"client-secret,omitempty"`
	StartURL     string `yaml:"start-url,omitempty"`
	Region       string `yaml:"region,omitempty"`
	Enabled      bool   `yaml:"enabled"`
}

// Config is the full on-disk configuration file.
type Config struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	ManagementSecret string `yaml:"management-secret,omitempty"`

	SDKConfig   SDKConfig         `yaml:"sdk-config,omitempty"`
	RedisCache  RedisCacheConfig  `yaml:"redis-cache,omitempty"`
	LongContext LongContextConfig `yaml:"long-context,omitempty"`
	LogFile     LogFileConfig     `yaml:"log-file,omitempty"`

	RefreshInterval time.Duration `yaml:"refresh-interval,omitempty"`

	Accounts []AccountEntry `yaml:"accounts,omitempty"`

	mu   sync.RWMutex `yaml:"-"`
	path string       `yaml:"-"`
}

// Default returns a Config populated with the proxy's default settings.
func Default() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            8317,
		RefreshInterval: 5 * time.Minute,
		LongContext: LongContextConfig{
			Strategy:       "error-retry",
			TokenThreshold: 180000,
			ReserveTokens:  8000,
		},
	}
}

// Load reads and parses the YAML config file at path. A missing file is not
// an error: Default() is returned with path recorded so a later Save creates
// it.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.path = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets the shared secret and Redis password be supplied
// out of band (environment or a local .env file) instead of committed to
// the on-disk config, for deployments that keep secrets out of YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KIRO_PROXY_MANAGEMENT_SECRET"); v != "" {
		cfg.ManagementSecret = v
	}
	if v := os.Getenv("KIRO_PROXY_REDIS_PASSWORD"); v != "" {
		cfg.RedisCache.Password = v
	}
}

// Save atomically writes the config back to disk: write to a temp file in
// the same directory, fsync, then rename over the original so a crash mid
// write never leaves a truncated config.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config has no path set")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}

// Path returns the file path this config was loaded from or will save to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// SetAccounts replaces the persisted account list under lock.
func (c *Config) SetAccounts(accounts []AccountEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts = accounts
}
