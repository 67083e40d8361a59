// Package nix wraps the two Nix CLI invocations the daemon and client rely
// on: `nix copy` for pushing a store path to a binary cache and
// `nix store sign` for signing paths before they are submitted.
//
// Commands run through the Runner interface so the worker pool and the
// client pipeline can be exercised with fakes that return canned outcomes.
// ExecRunner is the production implementation.
package nix
