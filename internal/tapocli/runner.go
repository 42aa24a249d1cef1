package tapocli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"
)

// Result is the captured output of one helper run.
type Result struct {
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Runner runs the helper binary once with the given arguments.
// A run that exceeds timeout must report TimedOut rather than an error.
type Runner interface {
	Run(ctx context.Context, args []string, timeout time.Duration) (Result, error)
}

// HelperPath returns the location the integration ships the helper at,
// relative to the Home Assistant config directory.
func HelperPath(configDir string) string {
	return filepath.Join(configDir, "custom_components", Domain, "bin", "tapo2")
}

// ExecRunner spawns the helper as a child process.
type ExecRunner struct {
	Path string
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed on timeout.
	WaitDelay time.Duration
}

// NewExecRunner creates a runner for the helper at path.
func NewExecRunner(path string) *ExecRunner {
	return &ExecRunner{Path: path, WaitDelay: time.Second}
}

// Run executes the helper and waits for it to exit or for timeout.
// A non-zero exit status is not an error; stderr carries the failure.
func (r *ExecRunner) Run(ctx context.Context, args []string, timeout time.Duration) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, r.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if timedOut(err, runCtx.Err()) {
		res.TimedOut = true
		return res, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, nil
		}
		return res, fmt.Errorf("failed to run %s: %w", r.Path, err)
	}
	return res, nil
}

// timedOut reports whether a failed run was killed by its deadline.
// A helper that exited cleanly keeps its output even if the deadline
// passed while Run was returning.
func timedOut(runErr, ctxErr error) bool {
	return runErr != nil && errors.Is(ctxErr, context.DeadlineExceeded)
}
