// Package execx models subprocess execution as an injected capability so
// that callers never depend on a concrete binary-discovery strategy and
// tests can substitute a recording fake.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Result captures one finished subprocess invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner spawns a subprocess and waits for it. A non-zero exit status is
// reported through Result.ExitCode, not through the error return; the error
// is reserved for spawn and I/O failures.
type Runner interface {
	Run(ctx context.Context, name string, args []string, env []string, dir string) (Result, error)
}

// OSRunner executes commands with os/exec. The env slice is appended to the
// inherited process environment.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args []string, env []string, dir string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}
