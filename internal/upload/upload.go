package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"nixupload/internal/logging"
)

var (
	// ErrMissingPath reports a candidate path that does not exist.
	ErrMissingPath = errors.New("path does not exist")
	// ErrUnrepresentablePath reports a path that cannot be sent as one UTF-8 line.
	ErrUnrepresentablePath = errors.New("path cannot be represented as a utf-8 line")
	// ErrMissingKey reports a signing key path that does not exist.
	ErrMissingKey = errors.New("signing key does not exist")
	// ErrNoPaths reports an empty batch after filtering.
	ErrNoPaths = errors.New("no paths to upload")
	// ErrWrite wraps a failure writing to the daemon connection.
	ErrWrite = errors.New("error writing to daemon")
	// ErrCancelled reports that ctx was done before the output was flushed.
	ErrCancelled = errors.New("upload cancelled")
)

// Signer signs a batch of paths with a key file.
type Signer interface {
	Sign(ctx context.Context, keyPath string, paths []string) error
}

// Options controls one Upload call.
type Options struct {
	// KeyPath enables signing when non-empty. Signer must then be set.
	KeyPath string
	Signer  Signer
	// SkipMissing drops paths that do not exist instead of failing.
	SkipMissing bool
	Logger      *slog.Logger
}

// Result reports what was written.
type Result struct {
	Submitted []string
	Skipped   []string
	Signed    bool
}

// Upload validates paths, signs them when a key is configured, and writes
// them to w. Nothing is written unless validation and signing succeed.
func Upload(ctx context.Context, w io.Writer, paths []string, opts Options) (Result, error) {
	logger := logging.NewComponentLogger(opts.Logger, "upload")
	var result Result

	valid, skipped, err := validatePaths(paths, opts.SkipMissing)
	result.Skipped = skipped
	if err != nil {
		return result, err
	}
	for _, path := range skipped {
		logging.WarnWithContext(logger, "skipping missing path", "path_missing",
			logging.Path(path),
			logging.String(logging.FieldImpact, "path not submitted"),
		)
	}
	if len(valid) == 0 {
		return result, ErrNoPaths
	}

	if key := strings.TrimSpace(opts.KeyPath); key != "" {
		if err := signPaths(ctx, opts.Signer, key, valid); err != nil {
			return result, err
		}
		result.Signed = true
		logger.Info("paths signed", logging.Int("count", len(valid)), logging.String("key", key))
	}

	if err := writeLines(ctx, w, valid); err != nil {
		return result, err
	}
	result.Submitted = valid
	logger.Debug("paths submitted", logging.Int("count", len(valid)))
	return result, nil
}

func validatePaths(paths []string, skipMissing bool) (valid, skipped []string, err error) {
	valid = make([]string, 0, len(paths))
	for _, raw := range paths {
		if err := checkRepresentable(raw); err != nil {
			return nil, skipped, err
		}
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, skipped, fmt.Errorf("resolve %s: %w", raw, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, skipped, fmt.Errorf("stat %s: %w", abs, err)
			}
			if skipMissing {
				skipped = append(skipped, abs)
				continue
			}
			return nil, skipped, fmt.Errorf("%w: %s", ErrMissingPath, abs)
		}
		valid = append(valid, abs)
	}
	return valid, skipped, nil
}

// checkRepresentable rejects paths that are not valid UTF-8 or would split
// into more than one record.
func checkRepresentable(path string) error {
	if path == "" || strings.ContainsAny(path, "\n\r") {
		return fmt.Errorf("%w: %q", ErrUnrepresentablePath, path)
	}
	if _, _, err := transform.String(encoding.UTF8Validator, path); err != nil {
		return fmt.Errorf("%w: %q", ErrUnrepresentablePath, path)
	}
	return nil
}

func signPaths(ctx context.Context, signer Signer, key string, paths []string) error {
	if _, err := os.Stat(key); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
		return fmt.Errorf("stat signing key %s: %w", key, err)
	}
	if signer == nil {
		return errors.New("signing key configured without a signer")
	}
	if err := signer.Sign(ctx, key, paths); err != nil {
		// A cancelled ctx kills the sign subprocess, which then reports a
		// nonzero exit.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: signing interrupted: %w", ErrCancelled, err)
		}
		return err
	}
	return nil
}

// writeLines races the buffered write and final flush against ctx. If ctx
// wins, no guarantee is made about how much reached w.
func writeLines(ctx context.Context, w io.Writer, paths []string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	done := make(chan error, 1)
	go func() {
		buf := bufio.NewWriter(w)
		for _, path := range paths {
			if _, err := buf.WriteString(path); err != nil {
				done <- err
				return
			}
			if err := buf.WriteByte('\n'); err != nil {
				done <- err
				return
			}
		}
		done <- buf.Flush()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}
