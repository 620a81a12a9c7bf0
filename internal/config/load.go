package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, applies defaults and environment
// overrides, and validates the result.
//
// The loading sequence is:
// 1. Parse YAML from file (unknown keys are rejected)
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return finish(&cfg)
}

// FromEnv returns the defaults with environment overrides applied. Used
// when no configuration file is given.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrict(data []byte, cfg *Config) error {
	if len(data) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Environment variable names.
const (
	EnvMaxSteps     = "KERN_MAX_STEPS"
	EnvMaxCycles    = "KERN_MAX_CYCLES"
	EnvMaxCallDepth = "KERN_MAX_CALL_DEPTH"
)

// applyEnvOverrides applies environment variable overrides. Unparseable
// values are ignored with a warning.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvMaxSteps); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Execution.MaxSteps = i
		} else {
			slog.Warn("ignoring invalid environment override", "name", EnvMaxSteps, "value", val)
		}
	}
	if val := os.Getenv(EnvMaxCycles); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Guard.MaxCycles = i
		} else {
			slog.Warn("ignoring invalid environment override", "name", EnvMaxCycles, "value", val)
		}
	}
	if val := os.Getenv(EnvMaxCallDepth); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Guard.MaxCallDepth = i
		} else {
			slog.Warn("ignoring invalid environment override", "name", EnvMaxCallDepth, "value", val)
		}
	}
}
