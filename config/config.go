package config

import (
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: database.url is read from
// ARBITRA_DATABASE_URL.
const EnvPrefix = "ARBITRA"

// Config represents the complete arbitra configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
}

type DatabaseConfig struct {
	// URL is a libpq connection string or postgres:// URL
	URL string `mapstructure:"url"`
	// MaxConns caps the pgx pool (0 keeps the pgx default)
	MaxConns int32 `mapstructure:"max_conns"`
	// MigrateOnStart applies embedded migrations before serving
	MigrateOnStart bool `mapstructure:"migrate_on_start"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	// JWTSecret signs bearer tokens; required to serve
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	// Level is one of: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format is console or json
	Format string `mapstructure:"format"`
}

// OutboxConfig controls the relay that publishes outbox rows
type OutboxConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Outbox: OutboxConfig{
			Enabled:     true,
			Interval:    time.Second,
			BatchSize:   50,
			MaxAttempts: 5,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("database.url", defaults.Database.URL)
	viper.SetDefault("database.max_conns", defaults.Database.MaxConns)
	viper.SetDefault("database.migrate_on_start", defaults.Database.MigrateOnStart)

	viper.SetDefault("http.addr", defaults.HTTP.Addr)
	viper.SetDefault("http.read_timeout", defaults.HTTP.ReadTimeout)
	viper.SetDefault("http.write_timeout", defaults.HTTP.WriteTimeout)
	viper.SetDefault("http.shutdown_timeout", defaults.HTTP.ShutdownTimeout)

	viper.SetDefault("auth.jwt_secret", defaults.Auth.JWTSecret)
	viper.SetDefault("auth.token_ttl", defaults.Auth.TokenTTL)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.format", defaults.Log.Format)

	viper.SetDefault("outbox.enabled", defaults.Outbox.Enabled)
	viper.SetDefault("outbox.interval", defaults.Outbox.Interval)
	viper.SetDefault("outbox.batch_size", defaults.Outbox.BatchSize)
	viper.SetDefault("outbox.max_attempts", defaults.Outbox.MaxAttempts)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}
