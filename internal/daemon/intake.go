package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"nixupload/internal/ipc"
	"nixupload/internal/logging"
	"nixupload/internal/queue"
)

// maxLineLength bounds one path record. Longer lines fail the connection.
const maxLineLength = 64 << 10

// IntakeStats summarises one connection.
type IntakeStats struct {
	Accepted int
	Dropped  int
}

// pathExists follows symlinks; a dangling link counts as missing.
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// handleConn reads path records from conn until EOF and publishes the ones
// that exist. A line that is not valid UTF-8 ends the connection with
// ErrReadingConnection; lines before it stay queued. It never observes cancellation: an accepted connection is read
// to the end.
func handleConn(ctx context.Context, conn ipc.Conn, tx *queue.Sender[string], logger *slog.Logger) (IntakeStats, error) {
	var stats IntakeStats
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		path := strings.TrimSuffix(scanner.Text(), "\r")
		if path == "" {
			continue
		}
		if _, _, err := transform.String(encoding.UTF8Validator, path); err != nil {
			return stats, fmt.Errorf("%w: line is not valid utf-8: %q", ErrReadingConnection, path)
		}
		if !pathExists(path) {
			stats.Dropped++
			logging.WarnWithContext(logger, "path does not exist", "path_missing",
				logging.Path(path),
				logging.String(logging.FieldErrorHint, "submit paths that exist on the daemon host"),
				logging.String(logging.FieldImpact, "path skipped"),
			)
			continue
		}
		if err := tx.Send(path); err != nil {
			if errors.Is(err, queue.ErrNoReceivers) {
				return stats, fmt.Errorf("%w: %s", ErrNoConsumers, path)
			}
			return stats, fmt.Errorf("enqueue %s: %w", path, err)
		}
		stats.Accepted++
		logger.DebugContext(ctx, "path queued", logging.Path(path))
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrReadingConnection, err)
	}
	return stats, nil
}
