// Package config loads settings from strata.yml and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the service configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	Host      string `mapstructure:"host"`
	APIPrefix string `mapstructure:"api_prefix"`
}

// Address renders the listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig represents the response cache configuration. An empty address
// disables the cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthConfig represents bearer token configuration. An empty secret disables
// token verification; all requests are then anonymous.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// EngineConfig represents resource defaults.
type EngineConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
	MaxIncludeDepth int `mapstructure:"max_include_depth"`
}

// Load loads the configuration from strata.yml or strata.yaml plus the
// environment. Environment variables use the STRATA_ prefix with underscores,
// e.g. STRATA_DATABASE_URL.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "")
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.ttl", 5*time.Minute)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("engine.default_page_size", 25)
	v.SetDefault("engine.max_page_size", 100)
	v.SetDefault("engine.max_include_depth", 3)

	v.SetConfigName("strata")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("strata")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// DatabaseURL returns the database URL from the environment or config.
func (c *Config) DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return c.Database.URL
}

func validateConfig(cfg *Config) error {
	if cfg.Server.APIPrefix != "" {
		if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", cfg.Server.APIPrefix)
		}
		if strings.HasSuffix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", cfg.Server.APIPrefix)
		}
	}
	if cfg.Engine.MaxPageSize < cfg.Engine.DefaultPageSize {
		return fmt.Errorf("engine.max_page_size must be at least engine.default_page_size")
	}
	return nil
}
