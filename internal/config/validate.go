package config

import (
	"errors"
	"fmt"
)

var errNoBinding = errors.New("daemon.binding must be set")

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateNix(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.Binding.IsZero() {
		return errNoBinding
	}
	if c.Daemon.Workers < 1 || c.Daemon.Workers > MaxWorkers {
		return fmt.Errorf("daemon.workers must be between 1 and %d, got %d", MaxWorkers, c.Daemon.Workers)
	}
	return ensureNonNegativeMap(map[string]int{
		"daemon.drain_timeout": c.Daemon.DrainTimeout,
	})
}

func (c *Config) validateNix() error {
	return ensureNonNegativeMap(map[string]int{
		"nix.command_timeout": c.Nix.CommandTimeout,
	})
}

func (c *Config) validateHistory() error {
	return ensureNonNegativeMap(map[string]int{
		"history.retention_days": c.History.RetentionDays,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of auto, console, json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}
