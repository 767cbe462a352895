// Package config loads the CLI configuration file. The file is TOML and
// every field is optional; a database path given on the command line
// overrides the file value.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config is the CLI configuration.
type Config struct {
	// Database is the SQLite path or DSN to open.
	Database string `toml:"database"`
	// Init lists SQL statements executed after the connection attaches,
	// before any command runs. Useful for seeding context attributes.
	Init []string `toml:"init"`
	// LogLevel selects the zap level: debug, info, warn, error. Empty
	// disables logging.
	LogLevel string `toml:"log_level"`
}

// Load reads a config file. An empty path yields an empty config; a path
// naming a file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Logger builds the zap logger selected by LogLevel. An empty level returns
// nil, meaning logging is off.
func (c *Config) Logger() (*zap.Logger, error) {
	if c.LogLevel == "" {
		return nil, nil
	}
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = level
	return zc.Build()
}
