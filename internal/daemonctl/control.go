// Package daemonctl inspects and stops a running daemon through its pid file.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNotRunning reports that no live daemon owns the pid file.
var ErrNotRunning = errors.New("daemon is not running")

const pollInterval = 50 * time.Millisecond

// ReadPID parses the pid file. A missing file returns ErrNotRunning.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q is malformed: %q", pidPath, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// ProcessInfo reports whether the pid recorded in pidPath is alive. A stale
// pid file reports not running with the recorded pid.
func ProcessInfo(pidPath string) (bool, int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return alive(pid), pid, nil
}

func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// StopResult describes how the daemon was stopped.
type StopResult struct {
	PID        int
	ForcedKill bool
	Elapsed    time.Duration
}

// Stop sends SIGTERM and waits up to grace for the daemon to drain and exit.
// If it is still alive afterwards it is killed and the pid file removed.
// A zero grace waits until ctx is done before killing.
func Stop(ctx context.Context, pidPath string, grace time.Duration) (StopResult, error) {
	running, pid, err := ProcessInfo(pidPath)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		if pid > 0 {
			_ = os.Remove(pidPath)
		}
		return StopResult{PID: pid}, ErrNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	started := time.Now()
	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			result.Elapsed = time.Since(started)
			return result, nil
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	waitCtx := ctx
	if grace > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, grace)
		defer cancel()
	}
	if waitExit(waitCtx, pid) {
		result.Elapsed = time.Since(started)
		return result, nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	result.Elapsed = time.Since(started)
	return result, nil
}

func waitExit(ctx context.Context, pid int) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !alive(pid)
		case <-ticker.C:
		}
	}
}
