// Package config loads plantwatch settings from a YAML file and
// PLANTWATCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLANTWATCH_"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type UpstreamConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Backend        string        `yaml:"backend"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	KeyPrefix      string        `yaml:"key_prefix"`
	Timezone       string        `yaml:"timezone"`
	TodayFreshness time.Duration `yaml:"today_freshness"`
	PastFreshness  time.Duration `yaml:"past_freshness"`
	RetentionDays  int           `yaml:"retention_days"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	Prefetch       *bool         `yaml:"prefetch"`
}

type AuthConfig struct {
	DatabasePath string        `yaml:"database_path"`
	JWTSecret    string        `yaml:"jwt_secret"`
	Issuer       string        `yaml:"issuer"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type ExportConfig struct {
	MaxDays     int `yaml:"max_days"`
	Concurrency int `yaml:"concurrency"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Load reads configPath (optional), applies environment overrides from the
// process environment and fills defaults. It does not validate.
func Load(configPath string) (*Config, error) {
	c := &Config{}

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configPath)
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := c.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyEnv overrides fields from PLANTWATCH_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	var errs []string
	dur := func(name string, dst *time.Duration) {
		if v := getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v := getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &c.Server.Addr)
	str("UPSTREAM_URL", &c.Upstream.BaseURL)
	str("API_KEY", &c.Upstream.APIKey)
	dur("UPSTREAM_TIMEOUT", &c.Upstream.Timeout)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("REDIS_ADDR", &c.Cache.RedisAddr)
	str("REDIS_PASSWORD", &c.Cache.RedisPassword)
	str("CACHE_KEY_PREFIX", &c.Cache.KeyPrefix)
	num("REDIS_DB", &c.Cache.RedisDB)
	str("TIMEZONE", &c.Cache.Timezone)
	num("RETENTION_DAYS", &c.Cache.RetentionDays)
	str("DB_PATH", &c.Auth.DatabasePath)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	dur("TOKEN_TTL", &c.Auth.TokenTTL)
	num("EXPORT_MAX_DAYS", &c.Export.MaxDays)
	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_PRETTY", &c.Log.Pretty)

	if v := getenv(EnvPrefix + "PREFETCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sPREFETCH: %v", EnvPrefix, err))
		} else {
			c.Cache.Prefetch = &b
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "plantwatch/" + Version
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = 30 * time.Second
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendMemory
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "localhost:6379"
	}
	if c.Cache.Timezone == "" {
		c.Cache.Timezone = "UTC"
	}
	if c.Cache.TodayFreshness <= 0 {
		c.Cache.TodayFreshness = 5 * time.Minute
	}
	if c.Cache.PastFreshness <= 0 {
		c.Cache.PastFreshness = 60 * time.Minute
	}
	if c.Cache.RetentionDays <= 0 {
		c.Cache.RetentionDays = 7
	}
	if c.Cache.FetchTimeout <= 0 {
		c.Cache.FetchTimeout = 30 * time.Second
	}
	if c.Cache.Prefetch == nil {
		on := true
		c.Cache.Prefetch = &on
	}

	if c.Auth.DatabasePath == "" {
		c.Auth.DatabasePath = "data/plantwatch.db"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "plantwatch"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	if c.Export.MaxDays <= 0 {
		c.Export.MaxDays = 31
	}
	if c.Export.Concurrency <= 0 {
		c.Export.Concurrency = 4
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Location resolves Cache.Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Cache.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Cache.Timezone, err)
	}
	return loc, nil
}

// PrefetchEnabled reports whether neighbour prefetch is on.
func (c *Config) PrefetchEnabled() bool {
	return c.Cache.Prefetch == nil || *c.Cache.Prefetch
}

// Validate checks the configuration needed to serve. Call ApplyDefaults first.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateClient checks everything except the auth section. One-shot
// commands that never serve HTTP use it.
func (c *Config) ValidateClient() error {
	return c.validate(false)
}

func (c *Config) validate(withAuth bool) error {
	var errors []string

	if c.Upstream.BaseURL == "" {
		errors = append(errors, "upstream base URL is required")
	} else if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		errors = append(errors, fmt.Sprintf("upstream base URL must be http(s), got: %s", c.Upstream.BaseURL))
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			errors = append(errors, "redis address is required for the redis cache backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("cache backend must be %q or %q, got: %q", BackendMemory, BackendRedis, c.Cache.Backend))
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, err.Error())
	}
	if c.Cache.RetentionDays < 1 {
		errors = append(errors, fmt.Sprintf("retention must be at least 1 day, got: %d", c.Cache.RetentionDays))
	}
	if c.Cache.TodayFreshness > c.Cache.PastFreshness {
		errors = append(errors, fmt.Sprintf("today freshness (%s) should not exceed past freshness (%s)", c.Cache.TodayFreshness, c.Cache.PastFreshness))
	}

	if withAuth && len(c.Auth.JWTSecret) < 16 {
		errors = append(errors, "jwt secret is required and must be at least 16 characters")
	}

	if c.Export.MaxDays > 366 {
		errors = append(errors, fmt.Sprintf("export range of %d days is too large (max 366)", c.Export.MaxDays))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
