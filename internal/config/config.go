// Package config loads the engine's YAML configuration via viper,
// applies environment overrides, resolves per-source credentials from
// the environment variables the auth descriptors name, and normalizes
// relative source paths against the config file's location.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sources   []SourceConfig  `mapstructure:"sources"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP surface and the health poller.
type ServerConfig struct {
	Port             int    `mapstructure:"port"`
	Host             string `mapstructure:"host"`
	LogLevel         string `mapstructure:"log_level"`
	CacheTTLSeconds  int    `mapstructure:"cache_ttl_seconds"`
	MaxConcurrent    int    `mapstructure:"max_concurrent"`
	RequestTimeoutMS int    `mapstructure:"request_timeout_ms"`
	HealthIntervalMS int    `mapstructure:"health_interval_ms"`
}

// SourceConfig is the YAML shape of one documentation source.
type SourceConfig struct {
	Name            string      `mapstructure:"name"`
	Type            string      `mapstructure:"type"`
	BaseURL         string      `mapstructure:"base_url"`
	Paths           []string    `mapstructure:"paths"`
	Auth            *AuthConfig `mapstructure:"auth"`
	RefreshInterval string      `mapstructure:"refresh_interval"`
	Priority        int         `mapstructure:"priority"`
	Enabled         bool        `mapstructure:"enabled"`
	TimeoutMS       int         `mapstructure:"timeout_ms"`
	MaxRetries      int         `mapstructure:"max_retries"`
	Categories      []string    `mapstructure:"categories"`
}

// AuthConfig names the environment variables a credential resolves
// from. Literal secrets never appear in configuration.
type AuthConfig struct {
	Kind    string   `mapstructure:"kind"`
	EnvVars []string `mapstructure:"env_vars"`
}

// CacheConfig configures the two-level cache.
type CacheConfig struct {
	Enabled      bool                         `mapstructure:"enabled"`
	Strategy     string                       `mapstructure:"strategy"` // memory-only | redis-only | hybrid
	Memory       MemoryCacheConfig            `mapstructure:"memory"`
	External     ExternalCacheConfig          `mapstructure:"external"`
	ContentTypes map[string]ContentTypeConfig `mapstructure:"content_types"`
}

// MemoryCacheConfig tunes the fast tier.
type MemoryCacheConfig struct {
	MaxKeys int `mapstructure:"max_keys"`
}

// ExternalCacheConfig tunes the slow (Redis) tier.
type ExternalCacheConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ContentTypeConfig overrides the TTL/warmup policy for one content tag.
type ContentTypeConfig struct {
	TTLSeconds int  `mapstructure:"ttl_seconds"`
	Warmup     bool `mapstructure:"warmup"`
}

// EmbeddingConfig gates the optional embedding model.
type EmbeddingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Model     string `mapstructure:"model"`
	CacheSize int    `mapstructure:"cache_size"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json | text
	Output     string `mapstructure:"output"` // stdout | stderr | file
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cache_ttl_seconds", 300)
	v.SetDefault("server.max_concurrent", 100)
	v.SetDefault("server.request_timeout_ms", 30000)
	v.SetDefault("server.health_interval_ms", 60000)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.strategy", "memory-only")
	v.SetDefault("cache.memory.max_keys", 10000)
	v.SetDefault("cache.external.pool_size", 20)
	v.SetDefault("cache.external.key_prefix", "runbook-engine:")

	v.SetDefault("embedding.enabled", false)
	v.SetDefault("embedding.cache_size", 1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}

// Load reads the config file at path (or the defaults when path is
// empty), applies environment overrides (PORT, HOST, LOG_LEVEL), and
// validates the result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, domain.WrapError(domain.ErrKindFatal, "", "failed to read config file", err)
		}
	}

	// Select env overrides, matching the deployment conventions the
	// server is run under.
	if port := os.Getenv("PORT"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return nil, domain.NewError(domain.ErrKindFatal, fmt.Sprintf("PORT environment override %q is not a number", port))
		}
		v.Set("server.port", parsed)
	}
	if host := os.Getenv("HOST"); host != "" {
		v.Set("server.host", host)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		v.Set("server.log_level", level)
		v.Set("log.level", level)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, domain.WrapError(domain.ErrKindFatal, "", "failed to decode configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	resolvePaths(&cfg, path, logger)
	return &cfg, nil
}

// Validate checks structural constraints: unique source names, known
// source types and cache strategy, sane limits.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return domain.NewError(domain.ErrKindFatal, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	switch c.Cache.Strategy {
	case "memory-only", "redis-only", "hybrid":
	default:
		return domain.NewError(domain.ErrKindFatal, fmt.Sprintf("cache.strategy %q must be memory-only, redis-only, or hybrid", c.Cache.Strategy))
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return domain.NewError(domain.ErrKindFatal, fmt.Sprintf("sources[%d] is missing a name", i))
		}
		if seen[src.Name] {
			return domain.NewError(domain.ErrKindFatal, fmt.Sprintf("duplicate source name %q", src.Name))
		}
		seen[src.Name] = true
		if !domain.SourceType(src.Type).Valid() {
			return domain.NewError(domain.ErrKindFatal, fmt.Sprintf("source %q has unknown type %q", src.Name, src.Type))
		}
		if src.Auth != nil && !domain.CredentialKind(src.Auth.Kind).Valid() {
			return domain.NewError(domain.ErrKindFatal, fmt.Sprintf("source %q has unknown auth kind %q", src.Name, src.Auth.Kind))
		}
	}
	return nil
}

// resolvePaths normalizes each source's relative paths against the
// config file's directory, then its parent; a path resolving to neither
// is left as-is with a warning.
func resolvePaths(cfg *Config, configPath string, logger *slog.Logger) {
	if configPath == "" {
		return
	}
	base := filepath.Dir(configPath)
	parent := filepath.Dir(base)

	for si := range cfg.Sources {
		for pi, p := range cfg.Sources[si].Paths {
			if filepath.IsAbs(p) {
				continue
			}
			candidate := filepath.Join(base, p)
			if _, err := os.Stat(candidate); err == nil {
				cfg.Sources[si].Paths[pi] = candidate
				continue
			}
			candidate = filepath.Join(parent, p)
			if _, err := os.Stat(candidate); err == nil {
				cfg.Sources[si].Paths[pi] = candidate
				continue
			}
			logger.Warn("source path did not resolve against the config location; leaving as-is",
				"source", cfg.Sources[si].Name, "path", p)
		}
	}
}

// DomainSources converts the YAML source entries to domain configs.
// resolver (nil for credential-free setups) is consulted only to warn
// about descriptors that cannot resolve; the values themselves flow to
// the adapters through the registry's CredentialSource at Initialize
// time, never through the config structs.
func (c *Config) DomainSources(resolver *CredentialResolver, logger *slog.Logger) ([]domain.SourceConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]domain.SourceConfig, 0, len(c.Sources))
	for _, src := range c.Sources {
		dc := domain.SourceConfig{
			Name:        src.Name,
			Type:        domain.SourceType(src.Type),
			BaseURL:     src.BaseURL,
			Paths:       src.Paths,
			Priority:    src.Priority,
			Enabled:     src.Enabled,
			CallTimeout: time.Duration(src.TimeoutMS) * time.Millisecond,
			MaxRetries:  src.MaxRetries,
		}
		if src.RefreshInterval != "" {
			d, err := time.ParseDuration(src.RefreshInterval)
			if err != nil {
				return nil, domain.NewError(domain.ErrKindFatal, fmt.Sprintf("source %q has invalid refresh_interval %q", src.Name, src.RefreshInterval))
			}
			dc.RefreshInterval = d
		}
		for _, cat := range src.Categories {
			dc.CategoryWhitelist = append(dc.CategoryWhitelist, domain.DocumentCategory(cat))
		}
		if src.Auth != nil {
			dc.Auth = &domain.AuthDescriptor{
				Kind:        domain.CredentialKind(src.Auth.Kind),
				EnvVarNames: src.Auth.EnvVars,
			}
			if resolver != nil {
				if err := resolver.Check(dc.Auth); err != nil {
					logger.Warn("source credentials incomplete",
						"source", src.Name, "error", err)
				}
			}
		}
		out = append(out, dc)
	}
	return out, nil
}

// LogLevelOrDefault returns the effective log level.
func (c *Config) LogLevelOrDefault() string {
	if c.Log.Level != "" {
		return c.Log.Level
	}
	return strings.ToLower(c.Server.LogLevel)
}
