// Package preflight provides readiness checks for the binaries and
// filesystem paths nix-upload-daemon depends on.
//
// The daemon runs RunAll at startup and refuses to serve when a required
// check fails. The CLI "check" command prints the same results as a table.
// Checks for optional features, such as the signing key, are skipped when
// the feature is not configured.
package preflight
