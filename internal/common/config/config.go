// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Session  SessionConfig  `mapstructure:"session"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// BackendConfig points at the marketplace REST API.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout_ms"` // milliseconds
}

// FirebaseConfig holds the identity provider settings.
type FirebaseConfig struct {
	APIKey      string `mapstructure:"api_key"`
	IdentityURL string `mapstructure:"identity_url"`
	TokenURL    string `mapstructure:"token_url"`
	Timeout     int    `mapstructure:"timeout_ms"` // milliseconds
}

// OAuthProviderConfig configures one federated login provider.
type OAuthProviderConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
}

// Enabled reports whether the provider has credentials.
func (p OAuthProviderConfig) Enabled() bool {
	return p.ClientID != ""
}

type OAuthConfig struct {
	Google        OAuthProviderConfig `mapstructure:"google"`
	GitHub        OAuthProviderConfig `mapstructure:"github"`
	LoginTimeout  int                 `mapstructure:"login_timeout_ms"` // milliseconds
	CallbackRoute string              `mapstructure:"callback_route"`
}

// StripeConfig holds the client-side payment processor settings.
type StripeConfig struct {
	PublishableKey string `mapstructure:"publishable_key"`
	APIBase        string `mapstructure:"api_base"`
	Timeout        int    `mapstructure:"timeout_ms"` // milliseconds
}

// SessionConfig controls where the backend token is kept.
type SessionConfig struct {
	CookieName     string `mapstructure:"cookie_name"`
	TTLHours       int    `mapstructure:"ttl_hours"`
	Store          string `mapstructure:"store"` // file | redis | memory
	FilePath       string `mapstructure:"file_path"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
	Profile        string `mapstructure:"profile"`
}

// TTL returns the token lifetime.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig backs the optional payment journal.
type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ServerConfig is the local dashboard API listener.
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout_ms"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout_ms"` // milliseconds
	Mode         string `mapstructure:"mode"`             // gin mode
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
