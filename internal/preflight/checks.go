package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"nixupload/internal/deps"
	"nixupload/internal/nix"
)

// CheckNixBinary verifies that the configured nix binary can be executed.
func CheckNixBinary(override string) Result {
	const name = "Nix"

	command := strings.TrimSpace(override)
	if resolved, err := nix.ResolveBinary(override); err == nil {
		command = resolved
	} else if command == "" {
		return Result{Name: name, Detail: err.Error()}
	}

	status := deps.CheckBinaries(context.Background(), []deps.Requirement{{
		Name:        name,
		Command:     command,
		Description: "Required for nix copy and nix store sign",
		VersionArgs: []string{"--version"},
	}})[0]
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	if status.Version != "" {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", status.Command, status.Version)}
	}
	return Result{Name: name, Passed: true, Detail: status.Command}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSocketDirectory verifies the daemon can create its socket file.
func CheckSocketDirectory(socketPath string) Result {
	result := CheckDirectoryAccess("Socket directory", filepath.Dir(socketPath))
	if result.Passed {
		result.Detail = fmt.Sprintf("%s (writable)", socketPath)
	}
	return result
}

// CheckSigningKey verifies the signing key exists and is readable.
func CheckSigningKey(path string) Result {
	const name = "Signing key"

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s (readable)", path)
	if info.Mode().Perm()&0o077 != 0 {
		detail = fmt.Sprintf("%s (readable, warning: mode %o allows other users)", path, info.Mode().Perm())
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckCopyDestination verifies a binary cache destination is configured.
func CheckCopyDestination(destination string) Result {
	const name = "Copy destination"

	destination = strings.TrimSpace(destination)
	if destination == "" {
		return Result{Name: name, Detail: "not configured (set daemon.copy_destination)"}
	}
	return Result{Name: name, Passed: true, Detail: destination}
}
