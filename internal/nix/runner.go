package nix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// stderrLimit caps how much diagnostic output is kept per command.
const stderrLimit = 8 << 10

var commandContext = exec.CommandContext

// Command is one external invocation.
type Command struct {
	Path string
	Args []string
	// Env holds KEY=VALUE entries appended to the inherited environment.
	Env []string
}

// Outcome is what a started command reported when it exited.
type Outcome struct {
	Status int
	Stderr string
}

// Success reports whether the command exited zero.
func (o Outcome) Success() bool { return o.Status == 0 }

// Runner runs external commands. Run returns an error only when the command
// could not be started; a command that started and exited nonzero is
// reported through Outcome.Status.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Outcome, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Outcome, error) { return f(ctx, cmd) }

// ExecRunner runs commands with os/exec. Stdout is discarded unless Stdout
// is set; stderr is captured up to a fixed limit.
type ExecRunner struct {
	Stdout io.Writer
}

func (r ExecRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	if c.Path == "" {
		return Outcome{}, errors.New("command path is empty")
	}
	cmd := commandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	if r.Stdout != nil {
		cmd.Stdout = r.Stdout
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("start %s: %w", c.Path, err)
	}
	err := cmd.Wait()
	out := Outcome{Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.Status = exitErr.ExitCode()
		return out, nil
	}
	return out, fmt.Errorf("wait %s: %w", c.Path, err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) >= b.limit {
		b.buf.Reset()
		b.buf.Write(p[len(p)-b.limit:])
		return n, nil
	}
	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
