package preflight

import (
	"nixupload/internal/config"
	"nixupload/internal/ipc"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional checks never block the daemon.
	Optional bool
}

// Role selects which checks apply.
type Role int

const (
	RoleServe Role = iota
	RoleUpload
)

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config, role Role) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckNixBinary(cfg.Nix.Binary))

	if role == RoleServe {
		results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
		results = append(results, CheckCopyDestination(cfg.Daemon.CopyDestination))
		if cfg.Daemon.Binding.Kind() == ipc.KindSocket {
			results = append(results, CheckSocketDirectory(cfg.Daemon.Binding.Address()))
		}
	}

	if cfg.Upload.SignKey != "" {
		results = append(results, CheckSigningKey(cfg.Upload.SignKey))
	}

	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
