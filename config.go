package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DNA    DNAConfig    `mapstructure:"dna"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// H2C serves cleartext HTTP/2 alongside HTTP/1.1
	H2C          bool  `mapstructure:"h2c"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// RateLimit is the number of classification requests allowed per second per client
	RateLimit       int           `mapstructure:"rate_limit"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DNAConfig controls input validation.
type DNAConfig struct {
	// Alphabet lists the accepted bases; empty accepts any uppercase letter
	Alphabet string `mapstructure:"alphabet"`
	MaxSize  int    `mapstructure:"max_size"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Driver is "sqlite" or "memory"
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			MaxBodyBytes:    1 << 20,
			RateLimit:       60,
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		DNA: DNAConfig{
			MaxSize: 1000,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "mutant.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	d := Default()

	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.h2c", d.Server.H2C)
	viper.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	viper.SetDefault("server.rate_limit", d.Server.RateLimit)
	viper.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	viper.SetDefault("dna.alphabet", d.DNA.Alphabet)
	viper.SetDefault("dna.max_size", d.DNA.MaxSize)

	viper.SetDefault("store.driver", d.Store.Driver)
	viper.SetDefault("store.dsn", d.Store.DSN)

	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads the configuration from viper and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mutant")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mutant")
}

// ValidationError is a single invalid configuration value.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid value found.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", c.Server.Port, "must be between 1 and 65535"})
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, ValidationError{"server.max_body_bytes", c.Server.MaxBodyBytes, "must be positive"})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{"server.rate_limit", c.Server.RateLimit, "must not be negative (0 disables)"})
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, ValidationError{"server.shutdown_timeout", c.Server.ShutdownTimeout, "must not be negative"})
	}

	for _, b := range c.DNA.Alphabet {
		if b < 'A' || b > 'Z' {
			errs = append(errs, ValidationError{"dna.alphabet", c.DNA.Alphabet, "must contain uppercase letters only"})
			break
		}
	}
	if c.DNA.MaxSize < 0 {
		errs = append(errs, ValidationError{"dna.max_size", c.DNA.MaxSize, "must not be negative (0 disables)"})
	}

	if !slices.Contains([]string{"sqlite", "memory"}, c.Store.Driver) {
		errs = append(errs, ValidationError{"store.driver", c.Store.Driver, "must be one of: sqlite, memory"})
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		errs = append(errs, ValidationError{"store.dsn", c.Store.DSN, "is required for the sqlite driver"})
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, ValidationError{"log.level", c.Log.Level, "must be one of: " + strings.Join(validLogLevels, ", ")})
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, ValidationError{"log.format", c.Log.Format, "must be json or text"})
	}

	return errs
}
