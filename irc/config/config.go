// Package config loads the server configuration from a YAML, TOML or JSON
// file and applies environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	// Server settings
	Server struct {
		Name    string `yaml:"name" toml:"name" json:"name" env:"IRCD_SERVER_NAME"`
		Network string `yaml:"network" toml:"network" json:"network" env:"IRCD_NETWORK"`
		Version string `yaml:"version" toml:"version" json:"version" env:"IRCD_VERSION"`
		Host    string `yaml:"host" toml:"host" json:"host" env:"IRCD_HOST"`
		Port    int    `yaml:"port" toml:"port" json:"port" env:"IRCD_PORT"`
		MOTD    string `yaml:"motd" toml:"motd" json:"motd" env:"IRCD_MOTD"`
	} `yaml:"server" toml:"server" json:"server"`

	// Resource limits
	Limits struct {
		MaxConnections       int `yaml:"max_connections" toml:"max_connections" json:"max_connections" env:"IRCD_MAX_CONNECTIONS"`
		MaxChannels          int `yaml:"max_channels" toml:"max_channels" json:"max_channels" env:"IRCD_MAX_CHANNELS"`
		MaxNicknameLength    int `yaml:"max_nickname_length" toml:"max_nickname_length" json:"max_nickname_length" env:"IRCD_MAX_NICKNAME_LENGTH"`
		MaxChannelNameLength int `yaml:"max_channel_name_length" toml:"max_channel_name_length" json:"max_channel_name_length" env:"IRCD_MAX_CHANNEL_NAME_LENGTH"`
	} `yaml:"limits" toml:"limits" json:"limits"`

	// Authentication and session settings
	Auth struct {
		// RequireAuthentication gates full registration on a PASS-supplied
		// credential check against the account store.
		RequireAuthentication bool `yaml:"require_authentication" toml:"require_authentication" json:"require_authentication" env:"IRCD_REQUIRE_AUTH"`
		// AllowUnregisteredChannels lets a session with only a nickname
		// perform channel operations before full registration.
		AllowUnregisteredChannels bool `yaml:"allow_unregistered_channels" toml:"allow_unregistered_channels" json:"allow_unregistered_channels" env:"IRCD_ALLOW_UNREGISTERED_CHANNELS"`
		// GreetPartial controls whether the welcome block and MOTD are sent
		// to nickname-only sessions, or held until full registration.
		GreetPartial         bool   `yaml:"greet_partial" toml:"greet_partial" json:"greet_partial" env:"IRCD_GREET_PARTIAL"`
		DefaultAdminUsername string `yaml:"default_admin_username" toml:"default_admin_username" json:"default_admin_username" env:"IRCD_ADMIN_USERNAME"`
		DefaultAdminPassword string `yaml:"default_admin_password" toml:"default_admin_password" json:"default_admin_password" env:"IRCD_ADMIN_PASSWORD"`
		SessionTimeoutSecs   int    `yaml:"session_timeout" toml:"session_timeout" json:"session_timeout" env:"IRCD_SESSION_TIMEOUT"`
		ShutdownGraceSecs    int    `yaml:"shutdown_grace" toml:"shutdown_grace" json:"shutdown_grace" env:"IRCD_SHUTDOWN_GRACE"`
	} `yaml:"auth" toml:"auth" json:"auth"`

	// Admin REST API settings
	Admin struct {
		Enabled      bool     `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCD_ADMIN_ENABLED"`
		Host         string   `yaml:"host" toml:"host" json:"host" env:"IRCD_ADMIN_HOST"`
		Port         int      `yaml:"port" toml:"port" json:"port" env:"IRCD_ADMIN_PORT"`
		BearerTokens []string `yaml:"bearer_tokens" toml:"bearer_tokens" json:"bearer_tokens" env:"IRCD_ADMIN_TOKENS" envSeparator:","`
	} `yaml:"admin" toml:"admin" json:"admin"`

	// Source the configuration was loaded from, empty for defaults-only.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Name = "ircd.local"
	cfg.Server.Network = "IRC4Go"
	cfg.Server.Version = "1.0.0"
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 6667
	cfg.Server.MOTD = "Welcome to the IRC4Go server!"
	cfg.Limits.MaxConnections = 1000
	cfg.Limits.MaxChannels = 100
	cfg.Limits.MaxNicknameLength = 30
	cfg.Limits.MaxChannelNameLength = 50
	cfg.Auth.AllowUnregisteredChannels = true
	cfg.Auth.GreetPartial = true
	cfg.Auth.DefaultAdminUsername = "admin"
	cfg.Auth.DefaultAdminPassword = "admin123"
	cfg.Auth.SessionTimeoutSecs = 3600
	cfg.Auth.ShutdownGraceSecs = 5
	cfg.Admin.Host = "127.0.0.1"
	cfg.Admin.Port = 8080
	return cfg
}

// Load reads the configuration from a file, falling back to defaults when
// source is empty, and then applies environment variable overrides.
func Load(source string) (*Config, error) {
	cfg := Default()

	if source != "" {
		if err := cfg.loadFromFile(source); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	return cfg, nil
}

// loadFromFile parses a config file, format chosen by extension.
func (c *Config) loadFromFile(source string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		// YAML is the default format
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", source, err)
	}

	c.Source = source
	return nil
}

// ListenAddress returns the host:port the IRC listener binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdminListenAddress returns the host:port the admin API binds to.
func (c *Config) AdminListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}

// SessionTimeout returns the idle session timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Auth.SessionTimeoutSecs) * time.Second
}

// ShutdownGrace returns the graceful shutdown warning period.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Auth.ShutdownGraceSecs) * time.Second
}
