package daemonrun_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"nixupload/internal/daemonrun"
	"nixupload/internal/history"
	"nixupload/internal/ipc"
	"nixupload/internal/logging"
	"nixupload/internal/nix"
	"nixupload/internal/testsupport"
)

func TestRunServesUploadsAndRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(0))
	var commands []nix.Command
	runner := nix.RunnerFunc(func(_ context.Context, cmd nix.Command) (nix.Outcome, error) {
		commands = append(commands, cmd)
		return nix.Outcome{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listening := make(chan ipc.Binding, 1)
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			Logger:      logging.NewNop(),
			Runner:      runner,
			OnListening: func(b ipc.Binding) { listening <- b },
		})
	}()

	var binding ipc.Binding
	select {
	case binding = <-listening:
	case err := <-done:
		if err != nil && strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping socket test: %v", err)
		}
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not start listening")
	}

	if _, err := os.Stat(cfg.PIDPath()); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}

	paths := testsupport.StorePaths(t, t.TempDir(), 2)
	conn, err := ipc.Connect(context.Background(), binding)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fmt.Fprintf(conn, "%s\n%s\n", paths[0], paths[1])
	_ = conn.CloseWrite()
	_ = conn.Close()

	reader, err := history.Open(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer reader.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := reader.List(context.Background(), history.Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 history entries, got %d", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if len(commands) != 2 {
		t.Fatalf("expected 2 nix copy invocations, got %d", len(commands))
	}
	if _, err := os.Stat(cfg.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, got %v", err)
	}
}

func TestRunRequiresCopyDestination(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.CopyDestination = ""
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Logger: logging.NewNop()}); err == nil {
		t.Fatal("expected error without copy destination")
	}
}

func TestRunFailsPreflightWithoutNix(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Nix.Binary = "/nonexistent/bin/nix"
	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Logger: logging.NewNop()})
	if err == nil || !strings.Contains(err.Error(), "preflight failed") {
		t.Fatalf("expected preflight failure, got %v", err)
	}
}

func TestRunWithoutHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(0), testsupport.WithHistoryDisabled())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			Logger:      logging.NewNop(),
			OnListening: func(ipc.Binding) { cancel() },
		})
	}()
	select {
	case err := <-done:
		if err != nil && !strings.Contains(err.Error(), "operation not permitted") {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(cfg.HistoryPath()); !os.IsNotExist(err) {
		t.Fatalf("expected no history database, got %v", err)
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(0), testsupport.WithHistoryDisabled())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	holder := flock.New(cfg.PIDPath() + ".lock")
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock = %v, %v", locked, err)
	}
	defer holder.Unlock()
	if err := os.WriteFile(cfg.PIDPath(), []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	err = daemonrun.Run(context.Background(), cfg, daemonrun.Options{Logger: logging.NewNop()})
	if !errors.Is(err, daemonrun.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	data, err := os.ReadFile(cfg.PIDPath())
	if err != nil || string(data) != "4242\n" {
		t.Fatalf("expected first daemon's pid file untouched, got %q, %v", data, err)
	}
}
