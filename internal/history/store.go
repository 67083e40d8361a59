package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// ErrLocked is returned by OpenWriter when another process holds the ledger.
var ErrLocked = errors.New("history ledger is locked by another process")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const entryColumns = "id, run_id, path, destination, status, exit_status, error_message, worker, started_at, finished_at, duration_ms"

// Store manages the upload ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open connects to the ledger at path, creating it if needed.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenWriter opens the ledger and takes the writer lock at <path>.lock.
// It fails with ErrLocked if another daemon already holds it.
func OpenWriter(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire history lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}

	store, err := Open(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	store.lock = lock
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database and releases the writer lock if held.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("release history lock: %w", unlockErr))
		}
		s.lock = nil
	}
	return err
}

// Record inserts one upload outcome. Missing timestamps default to now.
func (s *Store) Record(ctx context.Context, entry Entry) (int64, error) {
	if !entry.Status.Valid() {
		return 0, fmt.Errorf("invalid status %q", entry.Status)
	}
	if strings.TrimSpace(entry.Path) == "" {
		return 0, errors.New("entry path is required")
	}
	now := time.Now().UTC()
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = now
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt.Add(-entry.Duration)
	}

	var exitStatus any
	if entry.ExitStatus != nil {
		exitStatus = *entry.ExitStatus
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO uploads (
            run_id, path, destination, status, exit_status, error_message,
            worker, started_at, finished_at, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Path,
		entry.Destination,
		string(entry.Status),
		exitStatus,
		nullableString(entry.ErrorMessage),
		entry.Worker,
		entry.StartedAt.UTC().Format(timeLayout),
		entry.FinishedAt.UTC().Format(timeLayout),
		entry.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns entries matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "finished_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + entryColumns + ` FROM uploads`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY finished_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return entries, nil
}

// Summarize counts entries by status, optionally since a point in time.
func (s *Store) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	ctx = ensureContext(ctx)
	query := "SELECT status, COUNT(1) FROM uploads"
	var args []any
	if !since.IsZero() {
		query += " WHERE finished_at >= ?"
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize uploads: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("scan summary: %w", err)
		}
		switch Status(status) {
		case StatusUploaded:
			summary.Uploaded = count
		case StatusFailed:
			summary.Failed = count
		}
	}
	return summary, rows.Err()
}

// Prune deletes entries that finished before the cutoff and reports how
// many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM uploads WHERE finished_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune uploads: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry       Entry
		status      string
		exitStatus  sql.NullInt64
		errorMsg    sql.NullString
		startedRaw  string
		finishedRaw string
		durationMS  int64
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.RunID,
		&entry.Path,
		&entry.Destination,
		&status,
		&exitStatus,
		&errorMsg,
		&entry.Worker,
		&startedRaw,
		&finishedRaw,
		&durationMS,
	); err != nil {
		return Entry{}, err
	}
	entry.Status = Status(status)
	if exitStatus.Valid {
		v := int(exitStatus.Int64)
		entry.ExitStatus = &v
	}
	entry.ErrorMessage = errorMsg.String
	entry.Duration = time.Duration(durationMS) * time.Millisecond
	if t, err := parseTimeString(startedRaw); err == nil {
		entry.StartedAt = t
	}
	if t, err := parseTimeString(finishedRaw); err == nil {
		entry.FinishedAt = t
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
