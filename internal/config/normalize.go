package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nixupload/internal/ipc"
)

// Environment variables that override file values. Empty values count as unset.
const (
	EnvBinding         = "BINDING"
	EnvUnixSocket      = "UNIX_SOCKET"
	EnvPort            = "PORT"
	EnvWorkers         = "WORKERS"
	EnvCopyDestination = "COPY_DESTINATION"
	EnvSignKey         = "SIGN_KEY"
	EnvLogLevel        = "NIX_UPLOAD_LOG_LEVEL"
)

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) applyEnv() error {
	if err := c.applyBindingEnv(); err != nil {
		return err
	}
	if value, ok := lookupEnv(EnvWorkers); ok {
		workers, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", EnvWorkers, value)
		}
		c.Daemon.Workers = workers
	}
	if value, ok := lookupEnv(EnvCopyDestination); ok {
		c.Daemon.CopyDestination = value
	}
	if value, ok := lookupEnv(EnvSignKey); ok {
		c.Upload.SignKey = value
	}
	if value, ok := lookupEnv(EnvLogLevel); ok {
		c.Logging.Level = value
	}
	return nil
}

func (c *Config) applyBindingEnv() error {
	if value, ok := lookupEnv(EnvBinding); ok {
		binding, err := ipc.ParseBinding(value)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBinding, err)
		}
		c.Daemon.Binding = binding
		return nil
	}

	socketPath, hasSocket := lookupEnv(EnvUnixSocket)
	port, hasPort := lookupEnv(EnvPort)
	switch {
	case hasSocket && hasPort:
		return fmt.Errorf("%s and %s are mutually exclusive", EnvUnixSocket, EnvPort)
	case hasSocket:
		expanded, err := expandPath(socketPath)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvUnixSocket, err)
		}
		c.Daemon.Binding = ipc.SocketBinding(expanded)
	case hasPort:
		number, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return fmt.Errorf("%s: %w: %q is not a port number", EnvPort, ipc.ErrInvalidAddress, port)
		}
		c.Daemon.Binding = ipc.NetworkBinding("127.0.0.1", int(number))
	}
	return nil
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDaemon()
	if err := c.normalizeUpload(); err != nil {
		return err
	}
	if err := c.normalizeNix(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDaemon() {
	if c.Daemon.Binding.IsZero() {
		c.Daemon.Binding = ipc.SocketBinding(filepath.Join(c.Paths.StateDir, defaultSocketName))
	}
	c.Daemon.CopyDestination = strings.TrimSpace(c.Daemon.CopyDestination)
}

func (c *Config) normalizeUpload() error {
	c.Upload.SignKey = strings.TrimSpace(c.Upload.SignKey)
	var err error
	if c.Upload.SignKey, err = expandPath(c.Upload.SignKey); err != nil {
		return fmt.Errorf("upload.sign_key: %w", err)
	}
	return nil
}

func (c *Config) normalizeNix() error {
	c.Nix.Binary = strings.TrimSpace(c.Nix.Binary)
	// Bare command names are resolved against PATH later.
	if strings.ContainsRune(c.Nix.Binary, filepath.Separator) || strings.HasPrefix(c.Nix.Binary, "~") {
		var err error
		if c.Nix.Binary, err = expandPath(c.Nix.Binary); err != nil {
			return fmt.Errorf("nix.binary: %w", err)
		}
	}
	args := make([]string, 0, len(c.Nix.ExtraArgs))
	for _, arg := range c.Nix.ExtraArgs {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	c.Nix.ExtraArgs = args
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
