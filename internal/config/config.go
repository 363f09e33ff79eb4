// Package config loads snipdeck settings from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/snipdeck/internal/logging"
)

// Defaults for the highlighting core tunables.
const (
	DefaultListenAddr          = "127.0.0.1:8430"
	DefaultCacheMaxEntries     = 200
	DefaultCacheTTL            = 10 * time.Minute
	DefaultSweepInterval       = 5 * time.Minute
	DefaultEvictFraction       = 0.3
	DefaultLargeInputThreshold = 30000
	DefaultDarkTheme           = "github-dark"
	DefaultLightTheme          = "github"
	DefaultRedisKeyPrefix      = "snipdeck:render:"
	DefaultRateLimit           = 50
	DefaultRateBurst           = 100
)

// Config is the top-level settings document.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Cache     CacheConfig     `toml:"cache"`
	Highlight HighlightConfig `toml:"highlight"`
	Redis     RedisConfig     `toml:"redis"`
	Log       logging.Config  `toml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr  string  `toml:"listen"`
	Token       string  `toml:"token"`
	RateLimit   float64 `toml:"rate_limit"` // requests per second
	RateBurst   int     `toml:"rate_burst"`
	NoRateLimit bool    `toml:"no_rate_limit"`
}

// CacheConfig configures the in-process render cache.
type CacheConfig struct {
	MaxEntries    int           `toml:"max_entries"`
	TTL           time.Duration `toml:"ttl"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	EvictFraction float64       `toml:"evict_fraction"`
}

// HighlightConfig configures resource resolution and input guards.
type HighlightConfig struct {
	LargeInputThreshold int      `toml:"large_input_threshold"`
	DarkTheme           string   `toml:"dark_theme"`
	LightTheme          string   `toml:"light_theme"`
	CoreLanguages       []string `toml:"core_languages"`
	CoreThemes          []string `toml:"core_themes"`
}

// RedisConfig configures the optional shared render tier. An empty URL
// disables it.
type RedisConfig struct {
	URL       string        `toml:"url"`
	KeyPrefix string        `toml:"key_prefix"`
	TTL       time.Duration `toml:"ttl"`
}

// Default returns a Config with every tunable at its default.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (if non-empty), applies environment overrides and
// defaults, and validates the result. A missing file at the default path is
// not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if def := DefaultPath(); def != "" {
		if _, err := toml.DecodeFile(def, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: decode %s: %w", def, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPath returns the per-user config location, or "" if the home
// directory cannot be determined.
func DefaultPath() string {
	if p := os.Getenv("SNIPDECK_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "snipdeck", "config.toml")
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("config: cache.max_entries must be >= 1, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.EvictFraction <= 0 || c.Cache.EvictFraction > 1 {
		return fmt.Errorf("config: cache.evict_fraction must be in (0, 1], got %v", c.Cache.EvictFraction)
	}
	if c.Highlight.LargeInputThreshold < 1 {
		return fmt.Errorf("config: highlight.large_input_threshold must be >= 1, got %d", c.Highlight.LargeInputThreshold)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must be >= 0")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SNIPDECK_LISTEN"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SNIPDECK_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("SNIPDECK_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("SNIPDECK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = DefaultRateLimit
		if c.Server.RateBurst == 0 {
			c.Server.RateBurst = DefaultRateBurst
		}
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = int(c.Server.RateLimit) + 1
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = DefaultSweepInterval
	}
	if c.Cache.EvictFraction == 0 {
		c.Cache.EvictFraction = DefaultEvictFraction
	}
	if c.Highlight.LargeInputThreshold == 0 {
		c.Highlight.LargeInputThreshold = DefaultLargeInputThreshold
	}
	if c.Highlight.DarkTheme == "" {
		c.Highlight.DarkTheme = DefaultDarkTheme
	}
	if c.Highlight.LightTheme == "" {
		c.Highlight.LightTheme = DefaultLightTheme
	}
	c.Highlight.CoreLanguages = normalizeIDs(c.Highlight.CoreLanguages)
	c.Highlight.CoreThemes = normalizeIDs(c.Highlight.CoreThemes)
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = c.Cache.TTL
	}
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
