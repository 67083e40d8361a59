package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"nixupload/internal/config"
	"nixupload/internal/daemon"
	"nixupload/internal/ipc"
	"nixupload/internal/logging"
	"nixupload/internal/testsupport"
)

// isolateEnv points HOME at a temp directory and clears every variable the
// config loader reads.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	for _, key := range []string{
		config.EnvBinding,
		config.EnvUnixSocket,
		config.EnvPort,
		config.EnvWorkers,
		config.EnvCopyDestination,
		config.EnvSignKey,
		config.EnvLogLevel,
	} {
		t.Setenv(key, "")
	}
	return home
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLIWithInput(t, "", args...)
}

func runCLIWithInput(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected output to contain %q, got:\n%s", substr, output)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// testDaemon runs a daemon.Server on cfg's binding that records the paths
// it is asked to upload.
type testDaemon struct {
	mu       sync.Mutex
	uploaded []string
}

func (d *testDaemon) paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uploaded...)
}

func startTestDaemon(t *testing.T, cfg *config.Config) *testDaemon {
	t.Helper()
	td := &testDaemon{}
	server, err := daemon.New(daemon.Options{
		Workers: 2,
		Uploader: daemon.UploaderFunc(func(_ context.Context, path string) error {
			td.mu.Lock()
			td.uploaded = append(td.uploaded, path)
			td.mu.Unlock()
			return nil
		}),
		Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	listener, err := ipc.Listen(ctx, cfg.Daemon.Binding)
	if err != nil {
		cancel()
		t.Fatalf("ipc.Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
		_ = listener.Close()
	})
	return td
}
