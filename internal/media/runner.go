package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

// stderrTailLimit bounds how much subprocess stderr is kept for error
// reports.
const stderrTailLimit = 2048

// killGracePeriod is how long a cancelled subprocess gets between the
// graceful signal and the forceful kill.
const killGracePeriod = 5 * time.Second

// Runner abstracts subprocess execution for testability. RunEnv layers
// extra environment variables over the process environment, for tools
// whose device selection is env-driven.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (types.CommandLog, error)
	RunOutput(ctx context.Context, name string, args ...string) (string, types.CommandLog, error)
	RunEnv(ctx context.Context, extraEnv []string, name string, args ...string) (types.CommandLog, error)
}

// ExecRunner executes commands via os/exec with two-stage termination on
// context cancellation.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (types.CommandLog, error) {
	_, clog, err := run(ctx, nil, name, args)
	return clog, err
}

func (ExecRunner) RunOutput(ctx context.Context, name string, args ...string) (string, types.CommandLog, error) {
	return run(ctx, nil, name, args)
}

func (ExecRunner) RunEnv(ctx context.Context, extraEnv []string, name string, args ...string) (types.CommandLog, error) {
	_, clog, err := run(ctx, extraEnv, name, args)
	return clog, err
}

func run(ctx context.Context, extraEnv []string, name string, args []string) (string, types.CommandLog, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	err := cmd.Run()
	clog := types.CommandLog{
		Command:    name,
		Args:       args,
		StderrTail: Tail(stderr.Bytes(), stderrTailLimit),
	}
	if err != nil {
		clog.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			clog.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return stdout.String(), clog, err
	}
	return stdout.String(), clog, nil
}

// Tail returns the last n bytes of b as a string.
func Tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

// FileNonEmpty reports whether path exists as a regular file with size > 0.
func FileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
