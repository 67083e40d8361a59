package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nixupload/internal/config"
	"nixupload/internal/logging"
)

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller", logging.Path("/nix/store/abc-hello"))

	line := buf.String()
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
	if !strings.Contains(line, "INFO") || !strings.Contains(line, "message without caller") {
		t.Fatalf("unexpected console line %q", line)
	}
	if !strings.Contains(line, "path=/nix/store/abc-hello") {
		t.Fatalf("expected path field, got %q", line)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	if !strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestConsoleLoggerRendersSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "pool").Warn("upload failed", logging.Args(logging.Worker(3), logging.Error(errors.New("exit status 1")))...)

	line := buf.String()
	if !strings.Contains(line, "WARN [pool] Worker #3") {
		t.Fatalf("expected component and worker subject, got %q", line)
	}
	if !strings.Contains(line, `error="exit status 1"`) {
		t.Fatalf("expected quoted error, got %q", line)
	}
	if strings.Contains(line, "component=") || strings.Contains(line, "worker=") {
		t.Fatalf("subject fields should not repeat as key=value, got %q", line)
	}
}

func TestJSONLoggerNormalizesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Error("json message", logging.Args(logging.ConnID("c1"), logging.Error(errors.New("boom")))...)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json line %q: %v", buf.String(), err)
	}
	if record["level"] != "error" || record["msg"] != "json message" {
		t.Fatalf("unexpected record %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", record)
	}
	if record[logging.FieldConnID] != "c1" || record["error"] != "boom" {
		t.Fatalf("unexpected fields %v", record)
	}
}

func TestAutoFormatUsesJSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "auto", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("plain pipe")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected json output for non-terminal writer, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "invalid", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected info level filtering, got %q", buf.String())
	}
}

func TestFilePathTeesJSONRecords(t *testing.T) {
	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "logs", "daemon.log")
	logger, err := logging.New(logging.Options{Format: "console", Output: &console, FilePath: logPath})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.With(logging.String(logging.FieldRunID, "r1")).Info("daemon started")

	if !strings.Contains(console.String(), "daemon started") {
		t.Fatalf("expected console output, got %q", console.String())
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("expected json line in log file, got %q: %v", content, err)
	}
	if record[logging.FieldRunID] != "r1" {
		t.Fatalf("expected run_id in file record, got %v", record)
	}
}

func TestNewDaemonFromConfigWritesUnderStateDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, err := logging.NewDaemonFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewDaemonFromConfig returned error: %v", err)
	}
	logger.Info("hello")

	if _, err := os.Stat(cfg.DaemonLogPath()); err != nil {
		t.Fatalf("expected daemon log file: %v", err)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := logging.WithRunID(context.Background(), "run-1")
	ctx = logging.WithConnID(ctx, "conn-9")

	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WithContext(ctx, logger).Info("contextual log")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[logging.FieldRunID] != "run-1" || record[logging.FieldConnID] != "conn-9" {
		t.Fatalf("expected context fields, got %v", record)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "path missing", "path_missing", logging.String(logging.FieldImpact, "path skipped"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[logging.FieldEventType] != "path_missing" {
		t.Fatalf("expected event_type, got %v", record)
	}
	if record[logging.FieldErrorHint] == nil {
		t.Fatalf("expected default error_hint, got %v", record)
	}
	if record[logging.FieldImpact] != "path skipped" {
		t.Fatalf("expected caller impact preserved, got %v", record)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("expected nop logger to be disabled")
	}
	logging.WarnWithContext(nil, "ignored", "none")
}
