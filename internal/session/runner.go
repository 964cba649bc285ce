package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/psantana5/ffrec/pkg/artifacts"
	"github.com/psantana5/ffrec/pkg/logging"
	"github.com/psantana5/ffrec/pkg/metrics"
)

// ErrSetupFailed is returned when a setup step did not succeed. Tests are
// skipped, but the after-all event is still delivered.
var ErrSetupFailed = errors.New("session setup failed")

// Options configure a Runner
type Options struct {
	SessionID string
	// TestTimeout applies to tests without their own timeout
	TestTimeout time.Duration
	// DrainTimeout bounds the after-all event, which waits for pending saves
	DrainTimeout time.Duration
	Stdout       io.Writer
	Stderr       io.Writer
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
}

// Runner plays a plan against a lifecycle host
type Runner struct {
	plan  *Plan
	hooks artifacts.Lifecycle
	opts  Options
	log   *logging.Logger
}

// NewRunner creates a runner delivering lifecycle events to hooks
func NewRunner(plan *Plan, hooks artifacts.Lifecycle, opts Options) *Runner {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Runner{
		plan:  plan,
		hooks: hooks,
		opts:  opts,
		log:   opts.Logger.WithField("session", plan.Name),
	}
}

// Run executes setup steps and tests in order. Hook errors are collected in
// the report and never stop the session. A cancelled ctx ends the run
// without the after-all event; the caller is expected to terminate the host.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := newReport(r.plan.Name, r.opts.SessionID)
	defer report.complete()

	setupErr := r.runSetup(ctx, report)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if setupErr == nil {
		for _, tc := range r.plan.Tests {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			r.runTest(ctx, tc, report)
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	r.hookErr(report, "afterAll", r.afterAll(ctx))

	r.log.Info("Session finished", map[string]interface{}{
		"passed": report.Passed(),
		"failed": report.Failed(),
	})
	return report, setupErr
}

func (r *Runner) afterAll(ctx context.Context) error {
	if r.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.DrainTimeout)
		defer cancel()
	}
	return r.hooks.OnAfterAll(ctx)
}

func (r *Runner) runSetup(ctx context.Context, report *Report) error {
	if len(r.plan.Setup) == 0 {
		r.hookErr(report, "readyToRecord", r.hooks.OnReadyToRecord(ctx))
		return nil
	}

	for _, step := range r.plan.Setup {
		r.hookErr(report, "readyToRecord", r.hooks.OnReadyToRecord(ctx))

		r.log.Info("Running setup step", map[string]interface{}{"step": step.Name})
		res := runCommand(ctx, step.Command, step.Dir, step.Env, step.Timeout, r.opts.Stdout, r.opts.Stderr)
		report.addStep(step, res)

		if !res.passed() {
			reason := fmt.Sprintf("exit code %d", res.ExitCode)
			if res.Err != nil {
				reason = res.Err.Error()
			}
			r.log.Error("Setup step failed", map[string]interface{}{"step": step.Name, "reason": reason})
			return fmt.Errorf("%w: %s: %s", ErrSetupFailed, step.Name, reason)
		}
	}
	return nil
}

func (r *Runner) runTest(ctx context.Context, tc TestCase, report *Report) {
	timeout := tc.Timeout
	if timeout == 0 {
		timeout = r.opts.TestTimeout
	}

	for invocation := 1; ; invocation++ {
		summary := &artifacts.TestSummary{
			Title:       tc.Name,
			FullName:    tc.FullName(),
			Status:      artifacts.StatusRunning,
			Invocations: invocation,
		}

		r.hookErr(report, "beforeEach", r.hooks.OnBeforeEach(ctx, summary))

		res := runCommand(ctx, tc.Command, tc.Dir, tc.Env, timeout, r.opts.Stdout, r.opts.Stderr)
		if res.passed() {
			summary.Status = artifacts.StatusPassed
		} else {
			summary.Status = artifacts.StatusFailed
		}

		r.hookErr(report, "afterEach", r.hooks.OnAfterEach(ctx, summary))
		r.opts.Metrics.TestFinished(string(summary.Status), res.Duration)

		r.log.Info("Test finished", map[string]interface{}{
			"test":        summary.FullName,
			"status":      string(summary.Status),
			"invocation":  invocation,
			"duration_ms": res.Duration.Milliseconds(),
		})

		if res.passed() || invocation > tc.Retries || ctx.Err() != nil {
			report.addTest(tc, summary, res)
			return
		}
	}
}

func (r *Runner) hookErr(report *Report, event string, err error) {
	if err == nil {
		return
	}
	r.log.Warn("Lifecycle hook failed", map[string]interface{}{"event": event, "error": err.Error()})
	report.HookErrors = append(report.HookErrors, fmt.Sprintf("%s: %v", event, err))
}
