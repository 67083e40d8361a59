package nix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"nixupload/internal/config"
)

// sshOptsEnv is read by nix when it opens ssh:// stores.
const sshOptsEnv = "NIX_SSHOPTS"

// noHostKeyCheckingOpts makes ssh non-interactive against unknown hosts.
const noHostKeyCheckingOpts = "-o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null"

// experimentalFeatures enables the nix3 CLI on installations that still
// gate it.
var experimentalFeatures = []string{"--extra-experimental-features", "nix-command"}

// Copier pushes store paths to a binary cache with `nix copy`.
type Copier struct {
	Binary                 string
	Destination            string
	ExtraArgs              []string
	DisableHostKeyChecking bool
	Timeout                time.Duration
	Runner                 Runner
}

// NewCopier builds a Copier from configuration. The nix binary is resolved
// immediately so a missing installation fails at startup.
func NewCopier(cfg *config.Config, runner Runner) (*Copier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.RequireCopyDestination(); err != nil {
		return nil, err
	}
	binary, err := ResolveBinary(cfg.Nix.Binary)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Copier{
		Binary:                 binary,
		Destination:            cfg.Daemon.CopyDestination,
		ExtraArgs:              append([]string(nil), cfg.Nix.ExtraArgs...),
		DisableHostKeyChecking: cfg.Nix.DisableHostKeyChecking,
		Timeout:                cfg.CommandTimeout(),
		Runner:                 runner,
	}, nil
}

// Command returns the invocation used to copy path.
func (c *Copier) Command(path string) Command {
	args := make([]string, 0, len(experimentalFeatures)+len(c.ExtraArgs)+4)
	args = append(args, experimentalFeatures...)
	args = append(args, "copy", "--to", c.Destination)
	args = append(args, c.ExtraArgs...)
	args = append(args, path)

	cmd := Command{Path: c.Binary, Args: args}
	if c.DisableHostKeyChecking {
		cmd.Env = []string{sshOptsEnv + "=" + joinSSHOpts(os.Getenv(sshOptsEnv), noHostKeyCheckingOpts)}
	}
	return cmd
}

// Upload copies one path. A start failure wraps ErrForkingUploadProcess; a
// nonzero exit wraps ErrCouldNotUpload and a *StatusError.
func (c *Copier) Upload(ctx context.Context, path string) error {
	if c.Runner == nil {
		return fmt.Errorf("%w: no runner configured", ErrForkingUploadProcess)
	}
	runCtx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()

	outcome, err := c.Runner.Run(runCtx, c.Command(path))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrForkingUploadProcess, path, err)
	}
	if !outcome.Success() {
		statusErr := &StatusError{Status: outcome.Status, Stderr: outcome.Stderr}
		if cause := runCtx.Err(); cause != nil {
			return fmt.Errorf("%w: %s: %w (%w)", ErrCouldNotUpload, path, statusErr, cause)
		}
		return fmt.Errorf("%w: %s: %w", ErrCouldNotUpload, path, statusErr)
	}
	return nil
}

func joinSSHOpts(existing, extra string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" {
		return extra
	}
	return existing + " " + extra
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
