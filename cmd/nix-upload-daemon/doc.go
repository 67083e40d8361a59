// Package main hosts the nix-upload-daemon entrypoint and command graph.
//
// One binary serves both roles: `serve` runs the daemon that accepts store
// paths and pushes them with `nix copy`, and `upload` is the client that
// signs paths and submits them to a running daemon. Maintenance commands
// inspect the upload history, run readiness checks, and scaffold the
// configuration file.
//
// Keep this package lean: behaviour belongs in the internal packages and is
// only surfaced through flags and output formatting here.
package main
