// Package config loads the engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/PulseFit-Labs/reminder_engine/pkg/logger"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Redis     RedisConfig          `yaml:"redis"`
	Scheduler SchedulerConfig      `yaml:"scheduler"`
	Push      PushConfig           `yaml:"push"`
	Prayer    PrayerConfig         `yaml:"prayer"`
	Logging   logger.LoggingConfig `yaml:"logging"`
}

// Duration is a time.Duration that decodes from "30s"/"5m" strings in
// both YAML and environment variables.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repl string) error {
	parsed, err := time.ParseDuration(repl)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", repl, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the operational HTTP listener (health, metrics,
// live socket).
type ServerConfig struct {
	Listen string `yaml:"listen" env:"SERVER_LISTEN"`
}

// DatabaseConfig configures the Postgres connection. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string   `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int      `yaml:"maxOpenConns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int      `yaml:"maxIdleConns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// RedisConfig configures the optional presence mirror. An empty address
// disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// SchedulerConfig configures the tick loop.
type SchedulerConfig struct {
	Period Duration `yaml:"period" env:"SCHEDULER_PERIOD"`
	FanOut int      `yaml:"fanOut" env:"SCHEDULER_FAN_OUT"`
}

// PushConfig configures the push delivery channel.
type PushConfig struct {
	Timeout       Duration `yaml:"timeout" env:"PUSH_TIMEOUT"`
	TTL           int      `yaml:"ttl" env:"PUSH_TTL"`
	RatePerSecond float64  `yaml:"ratePerSecond" env:"PUSH_RATE_PER_SECOND"`
	RateBurst     int      `yaml:"rateBurst" env:"PUSH_RATE_BURST"`
}

// PrayerConfig configures the prayer times provider.
type PrayerConfig struct {
	BaseURL string   `yaml:"baseUrl" env:"PRAYER_BASE_URL"`
	Timeout Duration `yaml:"timeout" env:"PRAYER_TIMEOUT"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8090"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
		},
		Scheduler: SchedulerConfig{
			Period: Duration(time.Minute),
			FanOut: 16,
		},
		Push: PushConfig{
			Timeout:       Duration(10 * time.Second),
			TTL:           300,
			RatePerSecond: 50,
			RateBurst:     10,
		},
		Prayer: PrayerConfig{
			BaseURL: "https://api.aladhan.com/v1",
			Timeout: Duration(10 * time.Second),
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the file at path, overlays environment variables and
// validates the result. A missing file is not an error; defaults plus the
// environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// envdecode errors only on malformed values; absent variables keep
	// the file's values.
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Scheduler.Period.Std() < time.Second {
		return fmt.Errorf("scheduler.period must be at least 1s")
	}
	if c.Scheduler.FanOut < 1 {
		return fmt.Errorf("scheduler.fanOut must be positive")
	}
	if c.Push.Timeout.Std() <= 0 {
		return fmt.Errorf("push.timeout must be positive")
	}
	return nil
}
