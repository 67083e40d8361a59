// Package logs reads the daemon log file for the CLI: the last N lines, then
// optionally any lines appended afterwards.
package logs
