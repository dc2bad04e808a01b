// Package config loads the cwatch.yaml configuration file and layers
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// Config represents a cwatch.yaml configuration file. Every field can
// be overridden through the CWATCH_* environment.
type Config struct {
	Service       string `yaml:"service"         env:"CWATCH_SERVICE"`
	Capacity      int    `yaml:"capacity"        env:"CWATCH_CAPACITY"`
	Color         string `yaml:"color"           env:"CWATCH_COLOR"`
	LogDir        string `yaml:"log_dir"         env:"CWATCH_LOG_DIR"`
	Journal       bool   `yaml:"journal"         env:"CWATCH_JOURNAL"`
	Report        bool   `yaml:"report"          env:"CWATCH_REPORT"`
	FailOnNonzero bool   `yaml:"fail_on_nonzero" env:"CWATCH_FAIL_ON_NONZERO"`
}

// Default returns the configuration used when no file and no
// environment overrides are present.
func Default() Config {
	return Config{
		Service:       "command_watcher",
		Capacity:      logbuf.DefaultCapacity,
		Color:         "auto",
		FailOnNonzero: true,
	}
}

// Load reads the file at path (skipped when empty), applies .env and
// environment overrides and validates the result. Defaults fill every
// field the file and the environment leave untouched.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if errs := Validate(&cfg); len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// Discover returns the config file to use: $CWATCH_CONFIG, then
// ./cwatch.yaml, then cwatch/cwatch.yaml under the user config
// directory. Empty means no file was found.
func Discover() string {
	if p := os.Getenv("CWATCH_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("cwatch.yaml"); err == nil {
		return "cwatch.yaml"
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "cwatch", "cwatch.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate checks the configuration for structural correctness.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Service == "" {
		errs = append(errs, fmt.Errorf("service name is required"))
	}
	if cfg.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", cfg.Capacity))
	}
	if _, err := logbuf.ParseColorMode(cfg.Color); err != nil {
		errs = append(errs, err)
	}

	return errs
}
