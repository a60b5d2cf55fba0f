package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Environment variables.
const (
	EnvBenchConfig = "GOVISA_CONFIG"
	EnvSimConfig   = "VISASIM_CONFIG"
)

// LoadBench merges DefaultBench, the YAML file at path (or $GOVISA_CONFIG
// when path is empty) and GOVISA_* overrides, then validates the result.
// With neither a path nor the variable set only defaults and overrides
// apply.
func LoadBench(path string) (*Bench, error) {
	cfg := DefaultBench()

	if path == "" {
		path = os.Getenv(EnvBenchConfig)
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyBenchEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateBench(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadSim merges DefaultSim, the YAML file at path (or $VISASIM_CONFIG) and
// VISASIM_* overrides, then validates the result.
func LoadSim(path string) (*Sim, error) {
	cfg := DefaultSim()

	if path == "" {
		path = os.Getenv(EnvSimConfig)
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	applySimEnvOverrides(cfg)

	if err := ValidateSim(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile decodes a YAML file over cfg.
func loadFromFile(cfg interface{}, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

// applyBenchEnvOverrides applies GOVISA_* environment variables.
func applyBenchEnvOverrides(cfg *Bench) error {
	if val := os.Getenv("GOVISA_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GOVISA_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("GOVISA_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"GOVISA_TIMING_DELAY", &cfg.Timing.Delay},
		{"GOVISA_TIMING_TIMEOUT", &cfg.Timing.Timeout},
		{"GOVISA_TIMING_COMPLETION_POLL", &cfg.Timing.CompletionPoll},
		{"GOVISA_TIMING_COMPLETION_TIMEOUT", &cfg.Timing.CompletionTimeout},
		{"GOVISA_TIMING_ROUTE_TIMEOUT", &cfg.Timing.RouteTimeout},
	}
	for _, d := range durations {
		val := os.Getenv(d.env)
		if val == "" {
			continue
		}
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = duration
	}

	if val := os.Getenv("GOVISA_TIMING_QUERY_ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("GOVISA_TIMING_QUERY_ATTEMPTS: %w", err)
		}
		cfg.Timing.QueryAttempts = n
	}

	return nil
}

// applySimEnvOverrides applies VISASIM_* environment variables.
func applySimEnvOverrides(cfg *Sim) {
	if val := os.Getenv("VISASIM_HOST"); val != "" {
		cfg.Host = val
	}
	if val, ok := os.LookupEnv("VISASIM_HTTP_ADDR"); ok {
		cfg.HTTPAddr = val
	}
	if val := os.Getenv("VISASIM_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("VISASIM_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
}
