// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Download  DownloadConfig  `mapstructure:"download"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	DB        DBConfig        `mapstructure:"db"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	ReadHeaderTimeoutSec   int      `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the headless Chrome engine.
type BrowserConfig struct {
	ExecPath      string `mapstructure:"exec_path"`
	Headless      bool   `mapstructure:"headless"`
	NoSandbox     bool   `mapstructure:"no_sandbox"`
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// PoolConfig sizes the session pool.
type PoolConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// CacheConfig sets the result cache TTL.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// FetchConfig tunes the orchestrator.
type FetchConfig struct {
	DeadlineSeconds        int  `mapstructure:"deadline_seconds"`
	ResolverTimeoutSeconds int  `mapstructure:"resolver_timeout_seconds"`
	ProbeTimeoutSeconds    int  `mapstructure:"probe_timeout_seconds"`
	Coalesce               bool `mapstructure:"coalesce"`
}

// ResolverConfig points the media resolver at its upstream.
type ResolverConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	DocID          string `mapstructure:"doc_id"`
	AppID          string `mapstructure:"app_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DownloadConfig bounds proxied downloads.
type DownloadConfig struct {
	MaxBytes           int64    `mapstructure:"max_bytes"`
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
	IdleTimeoutSeconds int      `mapstructure:"idle_timeout_seconds"`
	AllowedHosts       []string `mapstructure:"allowed_hosts"`
	ProgressStep       int      `mapstructure:"progress_step"`
}

// RateLimitConfig sets the per-client API budget.
type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Requests      int  `mapstructure:"requests"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

// DBConfig enables the Postgres fetch-record store when DSN is set.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// ProgressConfig tunes the download progress hub.
type ProgressConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	MaxBatchEvents   int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int `mapstructure:"max_batch_wait_ms"`
	RetentionSeconds int `mapstructure:"retention_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SAVEREELIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT is honored for platforms that inject it.
	if err := v.BindEnv("server.port", "SAVEREELIFY_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_header_timeout_seconds", 10)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.allowed_origins", []string{"https://savereelify.com", "https://www.savereelify.com"})
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.nav_timeout_seconds", 15)
	v.SetDefault("pool.capacity", 5)
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("fetch.deadline_seconds", 15)
	v.SetDefault("fetch.resolver_timeout_seconds", 15)
	v.SetDefault("fetch.probe_timeout_seconds", 5)
	v.SetDefault("fetch.coalesce", true)
	v.SetDefault("resolver.endpoint", "https://www.instagram.com/graphql/query")
	v.SetDefault("resolver.doc_id", "8845758582119845")
	v.SetDefault("resolver.app_id", "936619743392459")
	v.SetDefault("resolver.timeout_seconds", 20)
	v.SetDefault("download.max_bytes", 200<<20)
	v.SetDefault("download.timeout_seconds", 30)
	v.SetDefault("download.idle_timeout_seconds", 30)
	v.SetDefault("download.allowed_hosts", []string{"cdninstagram.com", "fbcdn.net"})
	v.SetDefault("download.progress_step", 5)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window_seconds", 900)
	v.SetDefault("db.table", "fetch_records")
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait_ms", 100)
	v.SetDefault("progress.retention_seconds", 600)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be within 1..65535, got %d", c.Server.Port))
	}
	if c.Pool.Capacity <= 0 {
		errs = append(errs, errors.New("pool.capacity must be > 0"))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, errors.New("cache.ttl_seconds must be > 0"))
	}
	if c.Fetch.DeadlineSeconds <= 0 || c.Fetch.ResolverTimeoutSeconds <= 0 || c.Fetch.ProbeTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch timeouts must be > 0"))
	}
	if c.Download.MaxBytes <= 0 {
		errs = append(errs, errors.New("download.max_bytes must be > 0"))
	}
	if c.Download.ProgressStep <= 0 || c.Download.ProgressStep > 100 {
		errs = append(errs, errors.New("download.progress_step must be within 1..100"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.WindowSeconds <= 0) {
		errs = append(errs, errors.New("ratelimit.requests and ratelimit.window_seconds must be > 0 when enabled"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return Seconds(c.Server.ShutdownTimeoutSeconds)
}

// CacheTTL is the result cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return Seconds(c.Cache.TTLSeconds)
}

// Seconds converts a *_seconds value into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
