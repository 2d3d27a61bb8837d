package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppSection holds process-wide application settings.
type AppSection struct {
	// SecretKey derives the credential encryption key and signs sessions.
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`

	// SecretFromKeyring reads SecretKey from the system keyring when set.
	SecretFromKeyring bool `mapstructure:"secret_from_keyring" yaml:"secret_from_keyring"`

	// Pin unlocks the web UI.
	Pin string `mapstructure:"pin" yaml:"pin"`

	// BaseURL is the externally reachable address of this service, used to
	// build OAuth redirect URIs.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// FrontendURL receives the browser after an OAuth callback.
	FrontendURL string `mapstructure:"frontend_url" yaml:"frontend_url"`

	// Timezone anchors the start-of-week fetch cutoff.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// ServerSection configures the HTTP listener.
type ServerSection struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// DatabaseSection configures the sqlite cache.
type DatabaseSection struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SyncSection tunes the cache and fetch behavior.
type SyncSection struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RefreshBuffer time.Duration `mapstructure:"refresh_buffer" yaml:"refresh_buffer"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// OAuthSection configures the authorization handshake.
type OAuthSection struct {
	StateTTL time.Duration `mapstructure:"state_ttl" yaml:"state_ttl"`
}

// RedisSection points at an optional Redis used for OAuth state.
type RedisSection struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// SecuritySection parameterizes key derivation.
type SecuritySection struct {
	KDFSalt       string `mapstructure:"kdf_salt" yaml:"kdf_salt"`
	KDFIterations int    `mapstructure:"kdf_iterations" yaml:"kdf_iterations"`
}

// OAuthClient is a registered OAuth application.
type OAuthClient struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// Configured reports whether both halves of the client credential are set.
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// ProvidersSection holds the OAuth client of each provider.
type ProvidersSection struct {
	Microsoft OAuthClient `mapstructure:"microsoft" yaml:"microsoft"`
	Google    OAuthClient `mapstructure:"google" yaml:"google"`
	TickTick  OAuthClient `mapstructure:"ticktick" yaml:"ticktick"`
	Yahoo     OAuthClient `mapstructure:"yahoo" yaml:"yahoo"`
}

// LogSection selects the log handler.
type LogSection struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	App       AppSection       `mapstructure:"app" yaml:"app"`
	Server    ServerSection    `mapstructure:"server" yaml:"server"`
	Database  DatabaseSection  `mapstructure:"database" yaml:"database"`
	Sync      SyncSection      `mapstructure:"sync" yaml:"sync"`
	OAuth     OAuthSection     `mapstructure:"oauth" yaml:"oauth"`
	Redis     RedisSection     `mapstructure:"redis" yaml:"redis"`
	Security  SecuritySection  `mapstructure:"security" yaml:"security"`
	Providers ProvidersSection `mapstructure:"providers" yaml:"providers"`
	Log       LogSection       `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "mailboard.yaml"

var configDefaults = map[string]any{
	"app.pin":                 "1234",
	"app.base_url":            "http://localhost:8000",
	"app.frontend_url":        "http://localhost:5173",
	"app.timezone":            "Europe/Paris",
	"server.addr":             ":8000",
	"server.rate_limit":       20,
	"database.path":           "./data/mailboard.db",
	"sync.cache_ttl":          "300s",
	"sync.refresh_buffer":     "300s",
	"sync.fetch_timeout":      "60s",
	"sync.concurrency":        4,
	"oauth.state_ttl":         "10m",
	"security.kdf_salt":       "email-kanban-salt",
	"security.kdf_iterations": 100000,
	"log.level":               "info",
	"log.format":              "text",
}

// configEnv maps config keys to the environment variables that override them.
var configEnv = map[string]string{
	"app.secret_key":                    "APP_SECRET_KEY",
	"app.secret_from_keyring":           "APP_SECRET_FROM_KEYRING",
	"app.pin":                           "APP_PIN",
	"app.base_url":                      "BASE_URL",
	"app.frontend_url":                  "FRONTEND_URL",
	"app.timezone":                      "APP_TIMEZONE",
	"server.addr":                       "SERVER_ADDR",
	"server.rate_limit":                 "SERVER_RATE_LIMIT",
	"database.path":                     "DATABASE_PATH",
	"sync.cache_ttl":                    "SYNC_CACHE_TTL",
	"sync.refresh_buffer":               "SYNC_REFRESH_BUFFER",
	"sync.fetch_timeout":                "SYNC_FETCH_TIMEOUT",
	"sync.concurrency":                  "SYNC_CONCURRENCY",
	"oauth.state_ttl":                   "OAUTH_STATE_TTL",
	"redis.addr":                        "REDIS_ADDR",
	"redis.password":                    "REDIS_PASSWORD",
	"redis.db":                          "REDIS_DB",
	"security.kdf_salt":                 "SECURITY_KDF_SALT",
	"security.kdf_iterations":           "SECURITY_KDF_ITERATIONS",
	"providers.microsoft.client_id":     "MICROSOFT_CLIENT_ID",
	"providers.microsoft.client_secret": "MICROSOFT_CLIENT_SECRET",
	"providers.google.client_id":        "GOOGLE_CLIENT_ID",
	"providers.google.client_secret":    "GOOGLE_CLIENT_SECRET",
	"providers.ticktick.client_id":      "TICKTICK_CLIENT_ID",
	"providers.ticktick.client_secret":  "TICKTICK_CLIENT_SECRET",
	"providers.yahoo.client_id":         "YAHOO_CLIENT_ID",
	"providers.yahoo.client_secret":     "YAHOO_CLIENT_SECRET",
	"log.level":                         "LOG_LEVEL",
	"log.format":                        "LOG_FORMAT",
}

// LoadConfig reads configuration from the YAML file at path. Environment
// variables, including those loaded from ./.env, override file values. A
// missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, val := range configDefaults {
		v.SetDefault(key, val)
	}
	for key, env := range configEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with. The secret
// is checked separately because it may come from the keyring.
func (c *AppConfig) Validate() error {
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	if c.Sync.CacheTTL <= 0 {
		return errors.New("sync.cache_ttl must be positive")
	}
	if c.Sync.RefreshBuffer < 0 {
		return errors.New("sync.refresh_buffer must not be negative")
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("sync.concurrency must be at least 1")
	}
	if c.OAuth.StateTTL <= 0 {
		return errors.New("oauth.state_ttl must be positive")
	}
	if c.Security.KDFSalt == "" || c.Security.KDFIterations < 1 {
		return errors.New("security.kdf_salt and security.kdf_iterations are required")
	}
	return nil
}
