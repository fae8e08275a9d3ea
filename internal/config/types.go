package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Scripts   ScriptsConfig   `mapstructure:"scripts"`
	Logs      LogsConfig      `mapstructure:"logs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the persistence connection settings.
type DatabaseConfig struct {
	// URL accepts sqlite paths (file:... or plain paths) and postgres://
	// connection strings.
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// AuthConfig gates the admin surface. The proxy surface is never gated.
type AuthConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	Secret                string `mapstructure:"secret"`
	AccessTokenTTLMinutes int    `mapstructure:"access_token_ttl_minutes"`

	// InitialAdminUser/Password seed the first admin row at startup when no
	// account with that username exists yet.
	InitialAdminUser     string `mapstructure:"initial_admin_user"`
	InitialAdminPassword string `mapstructure:"initial_admin_password"`
}

func (a *AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// ProxyConfig holds upstream defaults applied when an upstream row leaves
// them unset.
type ProxyConfig struct {
	DefaultRequestTimeout     int    `mapstructure:"default_request_timeout"`
	DefaultRetryCount         int    `mapstructure:"default_retry_count"`
	DefaultConnectionPoolSize int    `mapstructure:"default_connection_pool_size"`
	SelectionStrategy         string `mapstructure:"selection_strategy"`
}

// ScriptsConfig bounds header script evaluation.
type ScriptsConfig struct {
	MaxTimeoutMs int  `mapstructure:"max_script_timeout_ms"`
	EnablePython bool `mapstructure:"enable_python_scripts"`
}

func (s *ScriptsConfig) MaxTimeout() time.Duration {
	if s.MaxTimeoutMs <= 0 {
		return time.Second
	}
	return time.Duration(s.MaxTimeoutMs) * time.Millisecond
}

// LogsConfig controls audit log retention.
type LogsConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// LoggingConfig holds application logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Theme      string `mapstructure:"theme"`
	Dir        string `mapstructure:"dir"`
	FileOutput bool   `mapstructure:"file_output"`
}

// NotifierConfig configures the operator notification channel.
type NotifierConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ReconcileConfig tunes the background maintenance loop.
type ReconcileConfig struct {
	AutoEnableInterval time.Duration `mapstructure:"auto_enable_interval"`
}
