// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file; the identity catalog can only be
// expressed in YAML (it is a list), with a single-identity environment
// fallback for the common one-backend deployment.
//
// Redis is optional — set TOKEN_STORE=memory to keep refreshed tokens
// in-process, and leave RPM_LIMIT at 0 to disable rate limiting.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/nulpointcorp/provider-gateway/internal/identity"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Identities is the configured identity catalog (may be empty when the
	// environment fallback is used).
	Identities []IdentityConfig

	// Fallback is the identity built from provider environment variables,
	// used when no catalog identity is marked default. Nil when no provider
	// env var is set.
	Fallback *identity.Identity

	// TokenStore selects where refreshed oauth tokens are persisted:
	//   "redis"  — shared across replicas (requires REDIS_URL).
	//   "memory" — in-process only.
	// Default: "memory".
	TokenStore string

	// Redis holds the connection URL for the token store and rate limiter.
	Redis RedisConfig

	// RateLimit controls per-identity request-rate limiting.
	RateLimit RateLimitConfig

	// Audit selects the interaction sink.
	Audit AuditConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// IdentityConfig is one catalog entry as expressed in YAML.
type IdentityConfig struct {
	ID                string   `mapstructure:"id"`
	DisplayName       string   `mapstructure:"display_name"`
	Kind              string   `mapstructure:"kind"`
	Auth              string   `mapstructure:"auth"`
	BaseURL           string   `mapstructure:"base_url"`
	StaticKey         string   `mapstructure:"static_key"`
	StaticKeyEnv      string   `mapstructure:"static_key_env"`
	TokenURL          string   `mapstructure:"token_url"`
	RevokeURL         string   `mapstructure:"revoke_url"`
	ClientID          string   `mapstructure:"client_id"`
	Models            []string `mapstructure:"models"`
	DefaultModel      string   `mapstructure:"default_model"`
	TimeoutMs         int      `mapstructure:"timeout_ms"`
	MaxRetries        int      `mapstructure:"max_retries"`
	SimulateStreaming bool     `mapstructure:"simulate_streaming"`
	Active            *bool    `mapstructure:"active"`
	Default           bool     `mapstructure:"default"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// RateLimitConfig controls request-rate limiting.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed per identity.
	// 0 disables rate limiting. Default: 0.
	RPMLimit int
}

// AuditConfig selects and configures the interaction sink.
type AuditConfig struct {
	// Mode selects the sink backend:
	//   "clickhouse" — ClickHouse analytics table (requires CLICKHOUSE_ADDR).
	//   "slog"       — structured log output. Default.
	//   "none"       — audit logging disabled.
	Mode string

	// ClickHouse connection settings, used when Mode is "clickhouse".
	Addr     []string
	Database string
	Username string
	Password string
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TOKEN_STORE", "memory")
	v.SetDefault("AUDIT_MODE", "slog")
	v.SetDefault("CLICKHOUSE_DATABASE", "default")
	v.SetDefault("CORS_ORIGINS", []string{"*"})
	v.SetDefault("RPM_LIMIT", 0)

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:       v.GetInt("PORT"),
		LogLevel:   strings.ToLower(v.GetString("LOG_LEVEL")),
		TokenStore: strings.ToLower(v.GetString("TOKEN_STORE")),

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		Audit: AuditConfig{
			Mode:     strings.ToLower(v.GetString("AUDIT_MODE")),
			Addr:     v.GetStringSlice("CLICKHOUSE_ADDR"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
			Username: v.GetString("CLICKHOUSE_USERNAME"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := v.UnmarshalKey("identities", &cfg.Identities); err != nil {
		return nil, fmt.Errorf("config: parse identities: %w", err)
	}
	cfg.Fallback = fallbackFromEnv(v)

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fallbackFromEnv builds a single static-key identity from provider
// environment variables, in a fixed preference order:
//
//  1. ANTHROPIC_API_KEY  → native-bearer
//  2. OPENAI_API_KEY     → openai-compatible
//  3. LOCAL_INFERENCE_URL → local-inference
func fallbackFromEnv(v *viper.Viper) *identity.Identity {
	if key := v.GetString("ANTHROPIC_API_KEY"); key != "" {
		return &identity.Identity{
			ID:           "env-anthropic",
			DisplayName:  "Anthropic (environment)",
			Kind:         identity.KindNativeBearer,
			AuthMode:     identity.AuthStaticKey,
			BaseURL:      v.GetString("ANTHROPIC_BASE_URL"),
			StaticKey:    key,
			DefaultModel: "claude-sonnet-4-20250514",
			IsActive:     true,
		}
	}
	if key := v.GetString("OPENAI_API_KEY"); key != "" {
		baseURL := v.GetString("OPENAI_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return &identity.Identity{
			ID:           "env-openai",
			DisplayName:  "OpenAI (environment)",
			Kind:         identity.KindOpenAICompat,
			AuthMode:     identity.AuthStaticKey,
			BaseURL:      baseURL,
			StaticKey:    key,
			DefaultModel: "gpt-4o",
			IsActive:     true,
		}
	}
	if url := v.GetString("LOCAL_INFERENCE_URL"); url != "" {
		return &identity.Identity{
			ID:           "env-local",
			DisplayName:  "Local inference (environment)",
			Kind:         identity.KindLocalInference,
			AuthMode:     identity.AuthStaticKey,
			BaseURL:      url,
			DefaultModel: v.GetString("LOCAL_INFERENCE_MODEL"),
			IsActive:     true,
		}
	}
	return nil
}

// BuildIdentities converts the catalog entries into identity objects,
// resolving static_key_env references against the process environment.
func (c *Config) BuildIdentities() ([]*identity.Identity, error) {
	out := make([]*identity.Identity, 0, len(c.Identities))
	for i, ic := range c.Identities {
		if ic.ID == "" {
			return nil, fmt.Errorf("config: identities[%d]: 'id' is required", i)
		}

		key := ic.StaticKey
		if key == "" && ic.StaticKeyEnv != "" {
			key = os.Getenv(ic.StaticKeyEnv)
		}

		ident := &identity.Identity{
			ID:                ic.ID,
			DisplayName:       ic.DisplayName,
			Kind:              identity.Kind(ic.Kind),
			AuthMode:          identity.AuthMode(ic.Auth),
			BaseURL:           ic.BaseURL,
			StaticKey:         key,
			ModelCatalog:      ic.Models,
			DefaultModel:      ic.DefaultModel,
			Timeout:           time.Duration(ic.TimeoutMs) * time.Millisecond,
			MaxRetries:        ic.MaxRetries,
			SimulateStreaming: ic.SimulateStreaming,
			IsActive:          ic.Active == nil || *ic.Active,
			IsDefault:         ic.Default,
		}
		if ident.AuthMode == "" {
			ident.AuthMode = identity.AuthStaticKey
		}
		if ic.TokenURL != "" || ic.RevokeURL != "" || ic.ClientID != "" {
			ident.OAuth = &identity.OAuthConfig{
				TokenURL:  ic.TokenURL,
				RevokeURL: ic.RevokeURL,
				ClientID:  ic.ClientID,
			}
		}
		out = append(out, ident)
	}
	return out, nil
}

// HasOAuthIdentity reports whether any catalog entry uses oauth credentials.
func (c *Config) HasOAuthIdentity() bool {
	for _, ic := range c.Identities {
		if identity.AuthMode(ic.Auth) == identity.AuthOAuth {
			return true
		}
	}
	return false
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.TokenStore {
	case "redis", "memory":
	default:
		return fmt.Errorf(
			"config: invalid TOKEN_STORE %q; must be one of: redis, memory",
			c.TokenStore,
		)
	}
	if c.TokenStore == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when TOKEN_STORE=redis; " +
				"set TOKEN_STORE=memory to keep tokens in-process",
		)
	}
	if c.RateLimit.RPMLimit > 0 && c.Redis.URL == "" {
		return fmt.Errorf("config: REDIS_URL is required when RPM_LIMIT > 0")
	}

	switch c.Audit.Mode {
	case "clickhouse", "slog", "none":
	default:
		return fmt.Errorf(
			"config: invalid AUDIT_MODE %q; must be one of: clickhouse, slog, none",
			c.Audit.Mode,
		)
	}
	if c.Audit.Mode == "clickhouse" && len(c.Audit.Addr) == 0 {
		return fmt.Errorf("config: CLICKHOUSE_ADDR is required when AUDIT_MODE=clickhouse")
	}

	defaults := 0
	for i, ic := range c.Identities {
		switch identity.Kind(ic.Kind) {
		case identity.KindNativeBearer, identity.KindOpenAICompat, identity.KindLocalInference:
		default:
			return fmt.Errorf("config: identities[%d]: invalid kind %q", i, ic.Kind)
		}
		switch identity.AuthMode(ic.Auth) {
		case identity.AuthStaticKey, identity.AuthOAuth, "":
		default:
			return fmt.Errorf("config: identities[%d]: invalid auth %q", i, ic.Auth)
		}
		if ic.Default && (ic.Active == nil || *ic.Active) {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("config: at most one active identity may be marked default, found %d", defaults)
	}

	if len(c.Identities) == 0 && c.Fallback == nil {
		return fmt.Errorf(
			"config: no provider configured; define an identities catalog in config.yaml " +
				"or set ANTHROPIC_API_KEY, OPENAI_API_KEY, or LOCAL_INFERENCE_URL",
		)
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
