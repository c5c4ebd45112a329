// Package config loads environment-based configuration for adconnect.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for adconnect.
type Config struct {
	// Environment controls log format; LogLevel the verbosity.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// ListenAddr is the HTTP listen address of the internal service.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8085"`

	// ExternalURL is the public base URL provider callbacks land on,
	// e.g. https://ops.example.com. Required: every provider needs a
	// fixed, pre-registered redirect URI derived from it.
	ExternalURL string `env:"EXTERNAL_URL"`

	// DBPath is the bbolt database file holding credentials and
	// handshake state. Defaults to ~/.adconnect/credentials.db.
	DBPath string `env:"DB_PATH"`

	// TokenSecret seals Snapchat, TikTok, and Google Ads tokens.
	// MetaTokenSecret seals Meta tokens; it falls back to TokenSecret
	// when a deployment has not split the keys yet.
	TokenSecret     string `env:"TOKEN_SECRET"`
	MetaTokenSecret string `env:"META_TOKEN_SECRET"`

	// RefreshSafetyMargin is the lead time before true expiry at which
	// tokens are refreshed proactively. One uniform value for all
	// providers.
	RefreshSafetyMargin time.Duration `env:"REFRESH_SAFETY_MARGIN" envDefault:"5m"`

	// ProviderTimeout bounds every HTTP call to a provider token or
	// account endpoint. A hung provider must not hold the refresh
	// lock past this.
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`

	// AuthStateTTL is how long a handshake state token stays valid.
	AuthStateTTL time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// InternalAPIKeys is a comma-separated list of bearer keys that
	// guard the internal token endpoint.
	InternalAPIKeys string `env:"INTERNAL_API_KEYS"`

	// ProviderCatalogPath optionally points at a YAML file overriding
	// per-provider scopes and endpoint URLs (useful for sandbox
	// tenants and tests).
	ProviderCatalogPath string `env:"PROVIDER_CATALOG"`

	// Per-provider OAuth client credentials. A provider with an empty
	// client ID is simply not registered.
	SnapchatClientID     string `env:"SNAPCHAT_CLIENT_ID"`
	SnapchatClientSecret string `env:"SNAPCHAT_CLIENT_SECRET"`
	TikTokAppID          string `env:"TIKTOK_APP_ID"`
	TikTokAppSecret      string `env:"TIKTOK_APP_SECRET"`
	MetaAppID            string `env:"META_APP_ID"`
	MetaAppSecret        string `env:"META_APP_SECRET"`
	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"GOOGLE_CLIENT_SECRET"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing client secrets to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory for default DB path: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".adconnect", "credentials.db")
	}

	if cfg.MetaTokenSecret == "" {
		cfg.MetaTokenSecret = cfg.TokenSecret
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}

	if c.ExternalURL == "" {
		return fmt.Errorf("EXTERNAL_URL is required")
	}

	if !strings.HasPrefix(c.ExternalURL, "http://") && !strings.HasPrefix(c.ExternalURL, "https://") {
		return fmt.Errorf("EXTERNAL_URL must be an absolute http(s) URL, got %q", c.ExternalURL)
	}

	if c.RefreshSafetyMargin <= 0 {
		return fmt.Errorf("REFRESH_SAFETY_MARGIN must be positive")
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}

	configured := 0
	for _, id := range []string{c.SnapchatClientID, c.TikTokAppID, c.MetaAppID, c.GoogleClientID} {
		if id != "" {
			configured++
		}
	}
	if configured == 0 {
		return fmt.Errorf("no provider configured: set at least one of SNAPCHAT_CLIENT_ID, TIKTOK_APP_ID, META_APP_ID, GOOGLE_CLIENT_ID")
	}

	return nil
}

// APIKeys returns the parsed internal bearer keys.
func (c *Config) APIKeys() []string {
	var keys []string
	for _, k := range strings.Split(c.InternalAPIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// RedirectURI builds the fixed callback URL registered with a provider.
func (c *Config) RedirectURI(provider string) string {
	return strings.TrimSuffix(c.ExternalURL, "/") + "/oauth/callback/" + provider
}

// ProviderSettings overrides the built-in defaults for one provider.
// Zero-valued fields keep the default.
type ProviderSettings struct {
	Scopes   []string `yaml:"scopes"`
	AuthURL  string   `yaml:"auth_url"`
	TokenURL string   `yaml:"token_url"`
	APIURL   string   `yaml:"api_url"`
}

// Catalog maps provider names to endpoint and scope overrides.
type Catalog map[string]ProviderSettings

// LoadCatalog reads the optional provider catalog file. An empty path
// yields an empty catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return Catalog{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider catalog: %w", err)
	}

	catalog := Catalog{}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing provider catalog: %w", err)
	}

	return catalog, nil
}
