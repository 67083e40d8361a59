package nix

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultBinary is the name resolved when no explicit binary is configured.
const DefaultBinary = "nix"

// determinateProfileBin is where Determinate Nix installs its binaries. It
// is outside PATH by default.
const determinateProfileBin = "/nix/var/nix/profiles/default/bin"

// FindBinary resolves a Nix binary by name, checking PATH first and then the
// Determinate Nix profile directory.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	determinatePath := filepath.Join(determinateProfileBin, name)
	if _, err := os.Stat(determinatePath); err == nil {
		return determinatePath, nil
	}

	return "", fmt.Errorf("%s not found on PATH or at %s; install Nix or set nix.binary", name, determinatePath)
}

// ResolveBinary honours an explicit override. Values containing a path
// separator are used as-is after an existence check; bare names go through
// FindBinary.
func ResolveBinary(override string) (string, error) {
	name := strings.TrimSpace(override)
	if name == "" {
		name = DefaultBinary
	}
	if !strings.ContainsRune(name, filepath.Separator) {
		return FindBinary(name)
	}
	info, err := os.Stat(name)
	if err != nil {
		return "", fmt.Errorf("nix binary %q: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("nix binary %q is a directory", name)
	}
	return name, nil
}
