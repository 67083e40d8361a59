package nix

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrForkingUploadProcess reports that `nix copy` could not be started.
	ErrForkingUploadProcess = errors.New("could not start upload process")
	// ErrCouldNotUpload reports that `nix copy` exited with a nonzero status.
	ErrCouldNotUpload = errors.New("could not upload path")
	// ErrForkingSignProcess reports that `nix store sign` could not be started.
	ErrForkingSignProcess = errors.New("could not start sign process")
	// ErrCouldNotSign reports that `nix store sign` exited with a nonzero status.
	ErrCouldNotSign = errors.New("could not sign paths")
)

// StatusError carries the exit status of a command that ran but failed.
// Status is -1 when the process was killed by a signal.
type StatusError struct {
	Status int
	Stderr string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("exited with status %d", e.Status)
	if detail := lastLine(e.Stderr); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// ExitStatus extracts the exit status from err, if it wraps a StatusError.
func ExitStatus(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status, true
	}
	return 0, false
}

// lastLine returns the last non-empty line of nix diagnostic output, which
// is where nix puts the actual error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
