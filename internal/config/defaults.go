package config

const (
	defaultConfigPath             = "~/.config/nix-upload-daemon/config.toml"
	projectConfigName             = "nix-upload-daemon.toml"
	defaultStateDir               = "~/.local/state/nix-upload-daemon"
	defaultSocketName             = "daemon.sock"
	defaultWorkers                = 2
	defaultDisableHostKeyChecking = true
	defaultHistoryEnabled         = true
	defaultHistoryRetentionDays   = 30
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults. The daemon
// binding is left unset and derived from Paths.StateDir during Load.
func Default() Config {
	return Config{
		Daemon: Daemon{
			Workers: defaultWorkers,
		},
		Nix: Nix{
			DisableHostKeyChecking: defaultDisableHostKeyChecking,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		History: History{
			Enabled:       defaultHistoryEnabled,
			RetentionDays: defaultHistoryRetentionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
