// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklok/toka/pkg/authserver/identity"
	"github.com/stacklok/toka/pkg/authserver/oauth"
	"github.com/stacklok/toka/pkg/authserver/scope"
	"github.com/stacklok/toka/pkg/authserver/server/keys"
	"github.com/stacklok/toka/pkg/authserver/storage"
	"github.com/stacklok/toka/pkg/logger"
)

// Directory backends.
const (
	DirectoryTypeHTTP     = "http"
	DirectoryTypePostgres = "postgres"
)

// Config is the complete configuration of toka-auth.
type Config struct {
	// Issuer is the issuer identifier placed in the "iss" claim. When it
	// carries a path, endpoints are served below that path.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// Scopes is the space-delimited list of scopes the server supports.
	Scopes string `mapstructure:"scopes" yaml:"scopes"`

	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Tokens    TokenConfig     `mapstructure:"tokens" yaml:"tokens"`
	Keys      KeysConfig      `mapstructure:"keys" yaml:"keys"`
	Storage   storage.Config  `mapstructure:"storage" yaml:"storage"`
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`

	// Client is the client configured through the OAUTH_CLIENT_* variables.
	Client identity.ClientConfig `mapstructure:"client" yaml:"client"`

	// Clients lists additional pre-registered clients, usually from the
	// config file.
	Clients []identity.ClientConfig `mapstructure:"clients" yaml:"clients,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`

	// BasePath overrides the mount path derived from the issuer.
	BasePath string `mapstructure:"base_path" yaml:"base_path,omitempty"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TokenConfig holds token lifetimes and the upstream call budget, in seconds.
type TokenConfig struct {
	AccessTokenTTLSeconds  int `mapstructure:"access_token_ttl_seconds" yaml:"access_token_ttl_seconds"`
	RefreshTokenTTLSeconds int `mapstructure:"refresh_token_ttl_seconds" yaml:"refresh_token_ttl_seconds"`
	AuthCodeTTLSeconds     int `mapstructure:"auth_code_ttl_seconds" yaml:"auth_code_ttl_seconds"`
	UpstreamTimeoutSeconds int `mapstructure:"upstream_timeout_seconds" yaml:"upstream_timeout_seconds"`
}

// KeysConfig configures the token signing key.
type KeysConfig struct {
	KeyID          string `mapstructure:"kid" yaml:"kid"`
	PrivateKey     string `mapstructure:"private_key" yaml:"private_key,omitempty"`
	PublicKey      string `mapstructure:"public_key" yaml:"public_key,omitempty"`
	PrivateKeyFile string `mapstructure:"private_key_file" yaml:"private_key_file,omitempty"`
}

// DirectoryConfig selects and configures the user directory and role service.
type DirectoryConfig struct {
	Type           string `mapstructure:"type" yaml:"type"`
	UserServiceURL string `mapstructure:"user_service_url" yaml:"user_service_url"`
	RoleServiceURL string `mapstructure:"role_service_url" yaml:"role_service_url"`
	ServiceToken   string `mapstructure:"service_token" yaml:"service_token,omitempty"`
	DatabaseURL    string `mapstructure:"database_url" yaml:"database_url,omitempty"`
}

// EventsConfig configures domain event publishing. Events are only logged
// when RabbitMQURL is empty.
type EventsConfig struct {
	RabbitMQURL string `mapstructure:"rabbitmq_url" yaml:"rabbitmq_url,omitempty"`
	Exchange    string `mapstructure:"exchange" yaml:"exchange"`
}

const defaultRedisURL = "redis://redis:6379"

// envBindings maps configuration keys to the environment variables that set
// them.
var envBindings = map[string]string{
	"issuer":                           "ISSUER",
	"scopes":                           "AUTH_SCOPES",
	"server.port":                      "PORT",
	"server.base_path":                 "BASE_PATH",
	"tokens.access_token_ttl_seconds":  "ACCESS_TOKEN_TTL_SECONDS",
	"tokens.refresh_token_ttl_seconds": "REFRESH_TOKEN_TTL_SECONDS",
	"tokens.auth_code_ttl_seconds":     "AUTH_CODE_TTL_SECONDS",
	"tokens.upstream_timeout_seconds":  "UPSTREAM_TIMEOUT_SECONDS",
	"keys.kid":                         "JWT_KID",
	"keys.private_key":                 "JWT_PRIVATE_KEY",
	"keys.public_key":                  "JWT_PUBLIC_KEY",
	"keys.private_key_file":            "JWT_PRIVATE_KEY_FILE",
	"storage.type":                     "STORAGE_TYPE",
	"storage.redis.url":                "REDIS_URL",
	"storage.redis.key_prefix":         "REDIS_KEY_PREFIX",
	"directory.type":                   "DIRECTORY_TYPE",
	"directory.user_service_url":       "USER_SERVICE_URL",
	"directory.role_service_url":       "ROLE_SERVICE_URL",
	"directory.service_token":          "INTERNAL_SERVICE_TOKEN",
	"directory.database_url":           "DATABASE_URL",
	"events.rabbitmq_url":              "RABBITMQ_URL",
	"events.exchange":                  "RABBITMQ_EXCHANGE",
	"client.id":                        "OAUTH_CLIENT_ID",
	"client.secret":                    "OAUTH_CLIENT_SECRET",
	"client.redirect_uris":             "OAUTH_REDIRECT_URIS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("issuer", "http://localhost:8000/auth")
	v.SetDefault("scopes", "openid profile email")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("tokens.access_token_ttl_seconds", int(oauth.DefaultAccessTokenTTL.Seconds()))
	v.SetDefault("tokens.refresh_token_ttl_seconds", int(oauth.DefaultRefreshTokenTTL.Seconds()))
	v.SetDefault("tokens.auth_code_ttl_seconds", int(oauth.DefaultAuthCodeTTL.Seconds()))
	v.SetDefault("tokens.upstream_timeout_seconds", int(oauth.DefaultUpstreamTimeout.Seconds()))
	v.SetDefault("keys.kid", keys.DefaultKeyID)
	v.SetDefault("storage.type", string(storage.TypeMemory))
	v.SetDefault("storage.redis.url", defaultRedisURL)
	v.SetDefault("directory.type", DirectoryTypeHTTP)
	v.SetDefault("directory.user_service_url", "http://user:3000/internal/users")
	v.SetDefault("directory.role_service_url", "http://role:3000/internal/roles")
	v.SetDefault("events.exchange", "toka.events")
	v.SetDefault("client.id", "toka-client")
	v.SetDefault("client.secret", "toka-secret")
	v.SetDefault("client.redirect_uris", "http://localhost:3000/callback")
}

// LoadConfig reads configuration from defaults, the optional YAML file at
// path and the environment, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWithViper(viper.New(), path)
}

// LoadConfigWithViper is LoadConfig on a caller-supplied viper instance.
func LoadConfigWithViper(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		logger.Debugf("loaded config file %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Issuer = strings.TrimRight(strings.TrimSpace(cfg.Issuer), "/")
	// A sentinel deployment replaces the default standalone URL.
	if cfg.Storage.Redis.SentinelConfig != nil && cfg.Storage.Redis.URL == defaultRedisURL {
		cfg.Storage.Redis.URL = ""
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "issuer", c.Issuer)

	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Issuer == "" {
		add("issuer is required")
	} else if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		add("issuer %q must be an absolute URL", c.Issuer)
	} else if u.RawQuery != "" || u.Fragment != "" {
		add("issuer %q must not contain a query or fragment", c.Issuer)
	}

	supported, err := scope.Parse(c.Scopes)
	if err != nil {
		add("scopes: %w", err)
	} else if !supported.Has(scope.OpenID) {
		add("scopes must include %q", scope.OpenID)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server port %d is out of range", c.Server.Port)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		add("server base path %q must start with /", c.Server.BasePath)
	}

	for name, seconds := range map[string]int{
		"access token TTL":  c.Tokens.AccessTokenTTLSeconds,
		"refresh token TTL": c.Tokens.RefreshTokenTTLSeconds,
		"auth code TTL":     c.Tokens.AuthCodeTTLSeconds,
		"upstream timeout":  c.Tokens.UpstreamTimeoutSeconds,
	} {
		if seconds <= 0 {
			add("%s must be positive, got %d seconds", name, seconds)
		}
	}

	if c.Keys.PublicKey != "" && c.Keys.PrivateKey == "" && c.Keys.PrivateKeyFile == "" {
		add("JWT public key configured without a private key")
	}

	if err := c.Storage.Validate(); err != nil {
		add("storage: %w", err)
	}

	switch c.Directory.Type {
	case DirectoryTypeHTTP:
		if c.Directory.UserServiceURL == "" {
			add("user service URL is required for the http directory")
		}
	case DirectoryTypePostgres:
		if c.Directory.DatabaseURL == "" {
			add("database URL is required for the postgres directory")
		}
	default:
		add("unsupported directory type %q", c.Directory.Type)
	}
	if c.Directory.RoleServiceURL == "" {
		add("role service URL is required")
	}

	clients := c.AllClients()
	if len(clients) == 0 {
		add("at least one OAuth client is required")
	}
	if err == nil {
		if _, regErr := identity.NewStaticClientRegistry(clients, supported); regErr != nil {
			add("clients: %w", regErr)
		}
	}

	return errors.Join(errs...)
}

// AllClients returns the environment client followed by the file clients.
func (c *Config) AllClients() []identity.ClientConfig {
	var clients []identity.ClientConfig
	if c.Client.ID != "" {
		clients = append(clients, c.Client)
	}
	return append(clients, c.Clients...)
}

// SupportedScopes parses Scopes.
func (c *Config) SupportedScopes() (scope.Scope, error) {
	return scope.Parse(c.Scopes)
}

// MountPath returns the path endpoints are served under: the configured
// base path, or else the path of the issuer.
func (c *Config) MountPath() string {
	if c.Server.BasePath != "" {
		return strings.TrimRight(c.Server.BasePath, "/")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}

// OAuthSettings converts the token configuration to oauth.Settings.
func (c *Config) OAuthSettings(supported scope.Scope) oauth.Settings {
	return oauth.Settings{
		Issuer:          c.Issuer,
		SupportedScopes: supported,
		AccessTokenTTL:  seconds(c.Tokens.AccessTokenTTLSeconds),
		RefreshTokenTTL: seconds(c.Tokens.RefreshTokenTTLSeconds),
		AuthCodeTTL:     seconds(c.Tokens.AuthCodeTTLSeconds),
		UpstreamTimeout: seconds(c.Tokens.UpstreamTimeoutSeconds),
	}
}

// KeyProviderConfig converts the key configuration to keys.Config.
func (c *Config) KeyProviderConfig() keys.Config {
	return keys.Config{
		KeyID:          c.Keys.KeyID,
		PrivateKeyPEM:  c.Keys.PrivateKey,
		PublicKeyPEM:   c.Keys.PublicKey,
		PrivateKeyFile: c.Keys.PrivateKeyFile,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
