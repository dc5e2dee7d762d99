package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the server needs at startup. Values come from an
// optional YAML file, overridden by PIPETRACK_* environment variables
// (PIPETRACK_SERVER_PORT, PIPETRACK_REDIS_ADDR, ...).
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	ClickHouse  ClickHouseConfig  `mapstructure:"clickhouse"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Velocity    VelocityConfig    `mapstructure:"velocity"`
	Demo        DemoConfig        `mapstructure:"demo"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type VelocityConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type DemoConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from configPath (skipped when empty) and the
// environment. Missing keys fall back to defaults; a missing file is only an
// error when a path was given explicitly.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Every key needs a default registered or AutomaticEnv will not see it
	// during Unmarshal.
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("clickhouse.dsn", "")
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("velocity.window", 24*time.Hour)
	v.SetDefault("demo.enabled", false)
	v.SetDefault("demo.interval", 15*time.Second)

	v.SetEnvPrefix("PIPETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Idempotency.TTL < 0 {
		return fmt.Errorf("idempotency.ttl must not be negative")
	}
	if c.Velocity.Window < 0 {
		return fmt.Errorf("velocity.window must not be negative")
	}
	if c.Demo.Enabled && c.Demo.Interval <= 0 {
		return fmt.Errorf("demo.interval must be positive when demo is enabled")
	}
	return nil
}
