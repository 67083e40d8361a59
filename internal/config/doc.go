// Package config loads, normalizes, and validates nix-upload-daemon configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and applies environment overrides such as
// BINDING and COPY_DESTINATION. When no binding is configured the daemon
// listens on a Unix socket inside the state directory.
//
// Always obtain settings through this package so downstream code receives
// parsed bindings, expanded paths, canonical log settings, and clear
// validation errors.
package config
