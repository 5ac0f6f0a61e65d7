// Package config loads the sadhana configuration.
//
// Precedence: YAML file, then defaults for zero values, then environment
// overrides. The result is checked against an embedded CUE schema.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvConfig    = "SADHANA_CONFIG"
	EnvAPIURL    = "SADHANA_API_URL"
	EnvDB        = "SADHANA_DB"
	EnvLogLevel  = "SADHANA_LOG_LEVEL"
	EnvJWTSecret = "SADHANA_JWT_SECRET"
	EnvRedisURL  = "SADHANA_REDIS_URL"
	EnvPageSize  = "SADHANA_PAGE_SIZE"
)

// Config is the full application configuration.
type Config struct {
	APIURL            string        `yaml:"api_url"`
	DBPath            string        `yaml:"db_path"`
	JournalKey        string        `yaml:"journal_key"`
	PageSize          int           `yaml:"page_size"`
	MaxPerItem        int           `yaml:"max_per_item"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	FetchConcurrency  int           `yaml:"fetch_concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	InitialPoints     int           `yaml:"initial_points"`
	DecayDebounce     time.Duration `yaml:"decay_debounce"`
	RedisURL          string        `yaml:"redis_url"`

	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

// LogConfig controls the zap logger and its optional rolling file.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig configures the reference tracker server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	JWTSecret      string        `yaml:"jwt_secret"`
	DBPath         string        `yaml:"db_path"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var c Config
	applyDefaults(&c)
	return c
}

// DefaultPath returns $HOME/.sadhana/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".sadhana", "config.yaml")
	}
	return filepath.Join(home, ".sadhana", "config.yaml")
}

// Load reads path (or $SADHANA_CONFIG, or DefaultPath when empty), fills
// defaults, applies environment overrides and validates. A missing file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath()
	}

	var c Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("config: %w", err)
	}

	applyDefaults(&c)
	if err := applyEnv(&c); err != nil {
		return Config{}, err
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Write stores c as YAML at path, creating parent directories.
func Write(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// GuestMode reports whether no remote tracker is configured.
func (c Config) GuestMode() bool {
	return c.APIURL == ""
}

func applyDefaults(c *Config) {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(filepath.Dir(DefaultPath()), "sadhana.db")
	}
	if c.JournalKey == "" {
		c.JournalKey = "sadhana_journey_v1"
	}
	if c.PageSize == 0 {
		c.PageSize = 10
	}
	if c.MaxPerItem == 0 {
		c.MaxPerItem = 2
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.FetchConcurrency == 0 {
		c.FetchConcurrency = 4
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.DecayDebounce == 0 {
		c.DecayDebounce = 800 * time.Millisecond
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 7
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = filepath.Join(filepath.Dir(DefaultPath()), "trackerd.db")
	}
	if c.Server.TokenTTL == 0 {
		c.Server.TokenTTL = 30 * 24 * time.Hour
	}
}

func applyEnv(c *Config) error {
	if v, ok := lookup(EnvAPIURL); ok {
		c.APIURL = v
	}
	if v, ok := lookup(EnvDB); ok {
		c.DBPath = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvJWTSecret); ok {
		c.Server.JWTSecret = v
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.RedisURL = v
	}
	if v, ok := lookup(EnvPageSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvPageSize, err)
		}
		c.PageSize = n
	}
	return nil
}

func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}
