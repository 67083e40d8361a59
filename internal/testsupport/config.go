package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"nixupload/internal/config"
	"nixupload/internal/ipc"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with a unique state directory per test.
// The binding is a socket under a short temp directory, the destination is
// a local file store, and logs are JSON.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Daemon.Binding = ipc.SocketBinding(SocketPath(t))
	cfgVal.Daemon.CopyDestination = "file://" + filepath.Join(base, "cache")
	cfgVal.Daemon.Workers = 1
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkers overrides the pool size.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Daemon.Workers = n
	}
}

// WithSignKey writes a placeholder signing key and points the config at it.
func WithSignKey() ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "keys", "cache.sec")
		WriteFile(b.t, path, 64)
		b.cfg.Upload.SignKey = path
	}
}

// WithHistoryDisabled turns off the upload ledger.
func WithHistoryDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = false
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, nix is stubbed. The stubs exit
// with exitCode.
func WithStubbedBinaries(exitCode int, names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"nix"}
		}
		binDir := StubBinaries(b.t, filepath.Join(b.baseDir, "bin"), exitCode, names...)

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
