package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// CodecovYAML points at an optional install file with setup and billing sections.
	CodecovYAML string `env:"CODECOV_YML"`

	// CookieSecret signs new cookies under CookieKeyVersion. During a rotation the
	// outgoing secret moves to CookieSecretPrevious and keeps its version number.
	CookieSecret             string        `env:"COOKIE_SECRET"`
	CookieKeyVersion         int           `env:"COOKIE_KEY_VERSION" default:"0"`
	CookieSecretPrevious     string        `env:"COOKIE_SECRET_PREVIOUS"`
	CookiePreviousKeyVersion int           `env:"COOKIE_PREVIOUS_KEY_VERSION" default:"0"`
	CookieDomain             string        `env:"COOKIE_DOMAIN"`
	CookieMaxAge             time.Duration `env:"COOKIE_MAX_AGE" default:"720h"`
	SessionSecret            string        `env:"SESSION_SECRET"`
	TokenEncryptionKey       string        `env:"TOKEN_ENCRYPTION_KEY"`
	FrontendURL              string        `env:"FRONTEND_URL" default:"http://localhost:3000"`
	APIURL                   string        `env:"API_URL" default:"http://localhost:8080"`

	GitHub    Provider `env:"GITHUB_"`
	GitLab    Provider `env:"GITLAB_"`
	Bitbucket Provider `env:"BITBUCKET_"`

	StripeAPIKey        string `env:"STRIPE_API_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	SessionCacheTTL      time.Duration `env:"SESSION_CACHE_TTL" default:"5m"`
	SessionMaxIdle       time.Duration `env:"SESSION_MAX_IDLE" default:"720h"`
	SessionPruneInterval time.Duration `env:"SESSION_PRUNE_INTERVAL" default:"1h"`

	// InstanceID identifies this replica for leader election; defaults to the hostname.
	InstanceID string `env:"INSTANCE_ID"`

	AllowedHosts       []string `env:"API_ALLOWED_HOSTS" sep:","`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" sep:","`

	// PlanPriceIDs maps plan names to Stripe price ids; only the install file sets it.
	PlanPriceIDs map[string]string
}

// Provider holds OAuth application credentials for one VCS service.
type Provider struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	APIURL       string `env:"API_URL"`
}

func (p Provider) Configured() bool { return p.ClientID != "" && p.ClientSecret != "" }

// Providers returns the configured VCS services keyed by service name.
func (c *Config) Providers() map[string]Provider {
	out := make(map[string]Provider, 3)
	for name, p := range map[string]Provider{"github": c.GitHub, "gitlab": c.GitLab, "bitbucket": c.Bitbucket} {
		if p.Configured() {
			out[name] = p
		}
	}
	return out
}

func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

type installFile struct {
	Setup struct {
		APIAllowedHosts    []string `yaml:"api_allowed_hosts"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"setup"`
	Billing struct {
		PlanIDs map[string]string `yaml:"plan_ids"`
	} `yaml:"billing"`
}

// Load reads the full server configuration.
func Load() (*Config, error) {
	return load(validate)
}

// LoadAdmin reads the configuration for maintenance commands, which only need
// Postgres and the token encryption key. VCS providers are optional there.
func LoadAdmin() (*Config, error) {
	return load(validateStorage)
}

func load(check func(*Config) error) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.CodecovYAML != "" {
		if err := mergeInstallFile(&cfg, cfg.CodecovYAML); err != nil {
			return nil, err
		}
	}

	if err := check(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeInstallFile fills values the environment left empty.
func mergeInstallFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file installFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = file.Setup.APIAllowedHosts
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = file.Setup.CORSAllowedOrigins
	}
	cfg.PlanPriceIDs = file.Billing.PlanIDs
	return nil
}

func validate(cfg *Config) error {
	if err := validateStorage(cfg); err != nil {
		return err
	}

	required := []struct{ name, value string }{
		{"REDIS_URL", cfg.RedisURL},
		{"COOKIE_SECRET", cfg.CookieSecret},
		{"SESSION_SECRET", cfg.SessionSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if err := validateCookieKeys(cfg); err != nil {
		return err
	}

	if len(cfg.Providers()) == 0 {
		return errors.New("at least one VCS provider (GITHUB_, GITLAB_ or BITBUCKET_ CLIENT_ID/CLIENT_SECRET) is required")
	}

	return nil
}

// validateStorage covers what every entry point needs to reach stored data.
func validateStorage(cfg *Config) error {
	required := []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"TOKEN_ENCRYPTION_KEY", cfg.TokenEncryptionKey},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	keyBytes, err := hex.DecodeString(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
	}

	if cfg.IsProduction() {
		if err := checkSSLMode(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	return nil
}

func validateCookieKeys(cfg *Config) error {
	if len(cfg.CookieSecret) < 16 {
		return errors.New("COOKIE_SECRET must be at least 16 characters")
	}
	if cfg.CookieKeyVersion < 0 || cfg.CookiePreviousKeyVersion < 0 {
		return errors.New("cookie key versions must not be negative")
	}
	if cfg.CookieSecretPrevious == "" {
		return nil
	}
	if len(cfg.CookieSecretPrevious) < 16 {
		return errors.New("COOKIE_SECRET_PREVIOUS must be at least 16 characters")
	}
	if cfg.CookiePreviousKeyVersion == cfg.CookieKeyVersion {
		return fmt.Errorf("COOKIE_PREVIOUS_KEY_VERSION must differ from COOKIE_KEY_VERSION (both %d)", cfg.CookieKeyVersion)
	}
	return nil
}

func checkSSLMode(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
