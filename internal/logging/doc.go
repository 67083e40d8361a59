// Package logging assembles structured slog loggers and formatting helpers used
// across nix-upload-daemon.
//
// It owns the console and JSON handlers, picks between them for the "auto"
// format based on whether stderr is a terminal, and tees daemon output into a
// JSON log file. Context helpers tag lines with the daemon run and client
// connection identifiers. The package also provides a no-op logger for tests
// and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits the same field names (component, event_type, error_hint, impact).
package logging
