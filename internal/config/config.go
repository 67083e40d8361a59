package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"nixupload/internal/ipc"
)

//go:embed sample_config.toml
var sampleConfig string

// MaxWorkers is the largest accepted daemon.workers value.
const MaxWorkers = 63

// Daemon contains the serve role settings.
type Daemon struct {
	Binding         ipc.Binding `toml:"binding"`
	Workers         int         `toml:"workers"`
	CopyDestination string      `toml:"copy_destination"`
	DrainTimeout    int         `toml:"drain_timeout"`
}

// Upload contains the client role settings.
type Upload struct {
	SignKey     string `toml:"sign_key"`
	SkipMissing bool   `toml:"skip_missing"`
}

// Nix contains settings for the external nix commands.
type Nix struct {
	Binary                 string   `toml:"binary"`
	DisableHostKeyChecking bool     `toml:"disable_host_key_checking"`
	CommandTimeout         int      `toml:"command_timeout"`
	ExtraArgs              []string `toml:"extra_args"`
}

// Paths contains on-disk state locations.
type Paths struct {
	StateDir string `toml:"state_dir"`
}

// History contains settings for the upload ledger.
type History struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for nix-upload-daemon.
//
// Configuration sections by subsystem:
//   - Daemon: listener binding, worker pool size, copy destination
//   - Upload: client signing key and missing-path policy
//   - Nix: binary override and command behaviour
//   - Paths: state directory holding the socket, logs, and history
//   - History: upload ledger toggle and retention
//   - Logging: log format and level
type Config struct {
	Daemon  Daemon  `toml:"daemon"`
	Upload  Upload  `toml:"upload"`
	Nix     Nix     `toml:"nix"`
	Paths   Paths   `toml:"paths"`
	History History `toml:"history"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories used by the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.LogDir()}
	if c.Daemon.Binding.Kind() == ipc.KindSocket {
		dirs = append(dirs, filepath.Dir(c.Daemon.Binding.Address()))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequireCopyDestination reports an error when the serve role has nowhere to upload.
func (c *Config) RequireCopyDestination() error {
	if strings.TrimSpace(c.Daemon.CopyDestination) == "" {
		return errors.New("daemon.copy_destination is required to serve. Set COPY_DESTINATION, pass --copy-destination, or edit the config file (create with 'nix-upload-daemon config init')")
	}
	return nil
}

// LogDir returns the directory holding daemon log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// DaemonLogPath returns the daemon log file path.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.LogDir(), "daemon.log")
}

// HistoryPath returns the upload ledger database path.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// PIDPath returns the daemon pid file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "daemon.pid")
}

// DrainTimeout returns daemon.drain_timeout as a duration. Zero means wait forever.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Daemon.DrainTimeout) * time.Second
}

// CommandTimeout returns nix.command_timeout as a duration. Zero means no limit.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Nix.CommandTimeout) * time.Second
}

// HistoryRetention returns how long ledger rows are kept. Zero keeps them forever.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
