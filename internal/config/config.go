package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort = 8080
	DefaultHost = "0.0.0.0"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute, // generous for slow upstreams
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			URL:          "keygate.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			Enabled:               false,
			AccessTokenTTLMinutes: 60 * 24,
		},
		Proxy: ProxyConfig{
			DefaultRequestTimeout:     30,
			DefaultRetryCount:         1,
			DefaultConnectionPoolSize: 10,
			SelectionStrategy:         "round_robin",
		},
		Scripts: ScriptsConfig{
			MaxTimeoutMs: 1000,
			EnablePython: false,
		},
		Logs: LogsConfig{
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
			Theme: "default",
			Dir:   "./logs",
		},
		Notifier: NotifierConfig{
			Timeout: 10 * time.Second,
		},
		Reconcile: ReconcileConfig{
			AutoEnableInterval: 10 * time.Minute,
		},
	}
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("keygate")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("KEYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// It's okay if the config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("KEYGATE_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the rest of the system can't run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("auth is enabled but no secret is configured")
	}
	if c.Scripts.MaxTimeoutMs < 0 {
		return fmt.Errorf("max_script_timeout_ms must not be negative")
	}
	switch c.Proxy.SelectionStrategy {
	case "", "round_robin", "random", "weighted":
	default:
		return fmt.Errorf("unknown selection strategy: %s", c.Proxy.SelectionStrategy)
	}
	return nil
}
