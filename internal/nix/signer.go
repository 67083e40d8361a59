package nix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nixupload/internal/config"
)

// Signer signs store paths with `nix store sign`.
type Signer struct {
	Binary  string
	Timeout time.Duration
	Runner  Runner
}

// NewSigner builds a Signer from configuration.
func NewSigner(cfg *config.Config, runner Runner) (*Signer, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	binary, err := ResolveBinary(cfg.Nix.Binary)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Signer{Binary: binary, Timeout: cfg.CommandTimeout(), Runner: runner}, nil
}

// Command returns the invocation used to sign paths with keyPath.
func (s *Signer) Command(keyPath string, paths []string) Command {
	args := make([]string, 0, len(experimentalFeatures)+4+len(paths))
	args = append(args, experimentalFeatures...)
	args = append(args, "store", "sign", "--key-file", keyPath)
	args = append(args, paths...)
	return Command{Path: s.Binary, Args: args}
}

// Sign signs every path in one invocation. A start failure wraps
// ErrForkingSignProcess; a nonzero exit wraps ErrCouldNotSign.
func (s *Signer) Sign(ctx context.Context, keyPath string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if s.Runner == nil {
		return fmt.Errorf("%w: no runner configured", ErrForkingSignProcess)
	}
	runCtx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	outcome, err := s.Runner.Run(runCtx, s.Command(keyPath, paths))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForkingSignProcess, err)
	}
	if !outcome.Success() {
		return fmt.Errorf("%w: %d path(s): %w", ErrCouldNotSign, len(paths), &StatusError{Status: outcome.Status, Stderr: outcome.Stderr})
	}
	return nil
}
