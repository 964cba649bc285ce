package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// timing records start and end timestamps only
type timing struct {
	startedAt   time.Time
	completedAt time.Time
}

func newTiming() *timing {
	return &timing{startedAt: time.Now()}
}

func (t *timing) complete() {
	t.completedAt = time.Now()
}

func (t *timing) duration() time.Duration {
	if t.completedAt.IsZero() {
		return time.Since(t.startedAt)
	}
	return t.completedAt.Sub(t.startedAt)
}

// commandResult is the outcome of one command
type commandResult struct {
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

func (r commandResult) passed() bool {
	return r.Err == nil && r.ExitCode == 0
}

// errTimedOut marks a command killed by its own timeout
var errTimedOut = errors.New("timed out")

// runCommand runs argv in its own process group. The whole group is
// killed when ctx is done or timeout elapses.
func runCommand(ctx context.Context, argv []string, dir string, env []string, timeout time.Duration, stdout, stderr io.Writer) commandResult {
	t := newTiming()
	result := commandResult{StartedAt: t.startedAt}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Own process group so that helpers spawned by the test die with it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Start(); err != nil {
		t.complete()
		result.ExitCode = -1
		result.Duration = t.duration()
		result.Err = fmt.Errorf("failed to start %s: %w", argv[0], err)
		return result
	}

	err := cmd.Wait()
	t.complete()
	result.Duration = t.duration()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Err = err
		}
	}

	switch {
	case ctx.Err() != nil:
		result.Err = ctx.Err()
	case runCtx.Err() != nil:
		result.Err = fmt.Errorf("%s after %s: %w", argv[0], timeout, errTimedOut)
	}
	return result
}
