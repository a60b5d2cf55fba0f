package config

import (
	"fmt"
	"strings"
)

var (
	validLogFormats = []string{"text", "json"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validSimKinds   = []string{"vna", "daq", "psu", "relay"}
)

// ValidateBench checks a merged bench configuration.
func ValidateBench(cfg *Bench) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateLogging(cfg.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if err := ValidateTiming(cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}

	if err := validateAudit(cfg.Audit); err != nil {
		return fmt.Errorf("audit validation failed: %w", err)
	}

	if err := validateInstruments(cfg.Instruments); err != nil {
		return fmt.Errorf("instrument validation failed: %w", err)
	}

	return nil
}

// ValidateTiming checks the session layer timing.
func ValidateTiming(t Timing) error {
	if t.Delay < 0 {
		return fmt.Errorf("delay must be non-negative, got %v", t.Delay)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", t.Timeout)
	}
	if t.QueryAttempts < 1 {
		return fmt.Errorf("query attempts must be at least 1, got %d", t.QueryAttempts)
	}
	if t.CompletionPoll <= 0 {
		return fmt.Errorf("completion poll must be positive, got %v", t.CompletionPoll)
	}
	if t.CompletionTimeout < t.CompletionPoll {
		return fmt.Errorf("completion timeout %v must be >= poll %v", t.CompletionTimeout, t.CompletionPoll)
	}
	if t.RouteTimeout <= 0 {
		return fmt.Errorf("route timeout must be positive, got %v", t.RouteTimeout)
	}
	return nil
}

// ValidateSim checks a merged simulator configuration.
func ValidateSim(cfg *Sim) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateLogging(cfg.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if len(cfg.Instruments) == 0 {
		return fmt.Errorf("at least one simulated instrument must be configured")
	}

	names := make(map[string]bool)
	ports := make(map[int]string)
	for i, inst := range cfg.Instruments {
		if inst.Name == "" {
			return fmt.Errorf("instrument %d: name is required", i)
		}
		if names[inst.Name] {
			return fmt.Errorf("duplicate instrument name %s", inst.Name)
		}
		names[inst.Name] = true

		if !contains(validSimKinds, inst.Kind) {
			return fmt.Errorf("instrument %s: invalid kind %q, must be one of: %v", inst.Name, inst.Kind, validSimKinds)
		}
		if inst.Port < 0 || inst.Port > 65535 {
			return fmt.Errorf("instrument %s: port %d out of range", inst.Name, inst.Port)
		}
		if inst.Port != 0 {
			if other, taken := ports[inst.Port]; taken {
				return fmt.Errorf("instrument %s: port %d already used by %s", inst.Name, inst.Port, other)
			}
			ports[inst.Port] = inst.Name
		}
	}

	return nil
}

func validateLogging(l Logging) error {
	if !contains(validLogFormats, strings.ToLower(l.Format)) {
		return fmt.Errorf("invalid log format %q, must be one of: %v", l.Format, validLogFormats)
	}
	if !contains(validLogLevels, strings.ToLower(l.Level)) {
		return fmt.Errorf("invalid log level %q, must be one of: %v", l.Level, validLogLevels)
	}
	return nil
}

func validateAudit(a Audit) error {
	if a.Path == "" {
		return nil
	}
	if a.MaxSizeMB <= 0 {
		return fmt.Errorf("max size must be positive, got %d", a.MaxSizeMB)
	}
	if a.MaxBackups < 0 || a.MaxAgeDays < 0 {
		return fmt.Errorf("retention must be non-negative")
	}
	return nil
}

func validateInstruments(insts []Instrument) error {
	names := make(map[string]bool)
	for i, inst := range insts {
		if inst.Name == "" {
			return fmt.Errorf("instrument %d: name is required", i)
		}
		if names[inst.Name] {
			return fmt.Errorf("duplicate instrument name %s", inst.Name)
		}
		names[inst.Name] = true

		if inst.Driver == "" {
			return fmt.Errorf("instrument %s: driver is required", inst.Name)
		}
		if inst.Address == "" {
			return fmt.Errorf("instrument %s: address is required", inst.Name)
		}
		if inst.Timeout < 0 {
			return fmt.Errorf("instrument %s: timeout must be non-negative, got %v", inst.Name, inst.Timeout)
		}
		if inst.BaudRate < 0 {
			return fmt.Errorf("instrument %s: baud rate must be non-negative, got %d", inst.Name, inst.BaudRate)
		}
	}
	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
