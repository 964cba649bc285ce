// Package recorder captures the screen with ffmpeg.
//
// A ProcessRecording spawns ffmpeg in its own process group writing to a
// temporary file. Stopping interrupts the group the way a terminal ^C
// would, so ffmpeg finalizes the container before exiting. Saving moves
// the temporary file into place and discarding removes it; both outcomes
// are written to the ledger.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/ffrec/internal/retry"
	"github.com/psantana5/ffrec/pkg/artifacts"
	"github.com/psantana5/ffrec/pkg/ledger"
	"github.com/psantana5/ffrec/pkg/logging"
	"github.com/psantana5/ffrec/pkg/metrics"
)

// Kind tells startup recordings from per-test ones
type Kind string

const (
	KindStartup Kind = "startup"
	KindTest    Kind = "test"
)

// ErrStopTimeout is returned when ffmpeg had to be killed
var ErrStopTimeout = errors.New("ffmpeg did not exit after interrupt")

// Deps are the collaborators shared by every recording of a session
type Deps struct {
	SessionID string
	Ledger    ledger.Ledger
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// ProcessRecording is an ffmpeg screen capture
type ProcessRecording struct {
	id     string
	kind   Kind
	opts   Options
	deps   Deps
	logger *logging.Logger

	// op serializes Start, Stop, Save and Discard
	op sync.Mutex

	mu      sync.Mutex
	state   State
	events  []Event
	pid     int
	tmpPath string
	done    chan struct{}
	waitErr error
	stderr  *tailBuffer
}

var _ artifacts.Recording = (*ProcessRecording)(nil)

// New creates an unstarted recording
func New(kind Kind, opts Options, deps Deps) *ProcessRecording {
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultOptions().StopTimeout
	}
	if opts.Extension == "" {
		opts.Extension = DefaultOptions().Extension
	}

	id := uuid.NewString()
	return &ProcessRecording{
		id:     id,
		kind:   kind,
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.WithFields(map[string]interface{}{"recording": id, "kind": string(kind)}),
		state:  StateCreated,
		stderr: newTailBuffer(4096),
	}
}

func (r *ProcessRecording) ID() string { return r.id }

func (r *ProcessRecording) Kind() Kind { return r.kind }

func (r *ProcessRecording) String() string {
	return fmt.Sprintf("%s recording %s", r.kind, r.id)
}

// State returns the current state
func (r *ProcessRecording) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Events returns all state changes so far
func (r *ProcessRecording) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// TempPath is where ffmpeg writes until the recording is saved
func (r *ProcessRecording) TempPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tmpPath
}

// Alive reports whether the ffmpeg process is still running
func (r *ProcessRecording) Alive() bool {
	r.mu.Lock()
	pid, state := r.pid, r.state
	r.mu.Unlock()

	if state != StateRecording || pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// Start spawns ffmpeg
func (r *ProcessRecording) Start(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()

	if err := ValidateTransition(r.State(), StateRecording); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := r.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.transition(StateFailed, 0, err.Error())
		return fmt.Errorf("failed to create temp dir %s: %w", dir, err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf("ffrec-%s-%s.%s", r.kind, r.id, r.opts.Extension))

	// Not bound to ctx: the capture outlives the hook that started it
	cmd := exec.Command(r.opts.FFmpegPath, BuildArgs(r.opts, tmpPath)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // own group so the interrupt reaches every child
		Pgid:    0,
	}
	cmd.Stderr = r.stderr

	if err := cmd.Start(); err != nil {
		r.transition(StateFailed, 0, fmt.Sprintf("Failed to start: %v", err))
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.pid = cmd.Process.Pid
	r.tmpPath = tmpPath
	r.done = done
	r.mu.Unlock()

	go func() {
		err := cmd.Wait()
		r.mu.Lock()
		r.waitErr = err
		r.mu.Unlock()
		close(done)
	}()

	r.transition(StateRecording, cmd.Process.Pid, fmt.Sprintf("PID %d started", cmd.Process.Pid))
	r.deps.Metrics.RecordingStarted(string(r.kind))
	r.logger.Debug("Recording started", map[string]interface{}{"pid": cmd.Process.Pid, "path": tmpPath})

	return nil
}

// Stop interrupts ffmpeg and waits for it to finish the file
func (r *ProcessRecording) Stop(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()
	return r.stop(ctx)
}

func (r *ProcessRecording) stop(ctx context.Context) error {
	switch r.State() {
	case StateCreated:
		r.transition(StateStopped, 0, "Never started")
		return nil
	case StateRecording:
	default:
		return nil
	}

	r.mu.Lock()
	pid, done := r.pid, r.done
	r.mu.Unlock()

	exitedEarly := false
	select {
	case <-done:
		exitedEarly = true
	default:
		if exists, _ := process.PidExists(int32(pid)); exists {
			if err := syscall.Kill(-pid, syscall.SIGINT); err != nil {
				r.logger.Warn("Failed to interrupt ffmpeg", map[string]interface{}{"pid": pid, "error": err.Error()})
			}
		}
	}

	timer := time.NewTimer(r.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		r.logger.Warn("ffmpeg ignored interrupt, killing", map[string]interface{}{"pid": pid, "timeout": r.opts.StopTimeout.String()})
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-done
		r.transition(StateFailed, pid, "Killed after stop timeout")
		return fmt.Errorf("%s: %w", r, ErrStopTimeout)
	case <-ctx.Done():
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-done
		r.transition(StateFailed, pid, "Killed: "+ctx.Err().Error())
		return fmt.Errorf("%s: stop interrupted: %w", r, ctx.Err())
	}

	r.mu.Lock()
	waitErr := r.waitErr
	r.mu.Unlock()

	code, ok := cleanExit(waitErr)
	if exitedEarly {
		ok = waitErr == nil
	}
	if !ok {
		msg := fmt.Sprintf("ffmpeg exited with code %d", code)
		if tail := strings.TrimSpace(r.stderr.String()); tail != "" {
			msg += ": " + tail
		}
		r.transitionExit(StateFailed, pid, code, msg)
		return fmt.Errorf("%s: %s", r, msg)
	}

	r.transitionExit(StateStopped, pid, code, "Stopped")
	r.logger.Debug("Recording stopped", map[string]interface{}{"pid": pid, "exit_code": code})
	return nil
}

// Save stops the capture if needed and moves the file to path
func (r *ProcessRecording) Save(ctx context.Context, path string) error {
	r.op.Lock()
	defer r.op.Unlock()

	if err := r.stop(ctx); err != nil {
		r.record(ctx, ledger.OutcomeFailed, path, err)
		return err
	}
	if err := ValidateTransition(r.State(), StateSaved); err != nil {
		return fmt.Errorf("cannot save %s: %w", r, err)
	}

	if err := moveFile(r.TempPath(), path); err != nil {
		r.transition(StateFailed, 0, err.Error())
		r.record(ctx, ledger.OutcomeFailed, path, err)
		return fmt.Errorf("failed to save %s: %w", r, err)
	}

	r.transition(StateSaved, 0, "Saved to "+path)
	r.record(ctx, ledger.OutcomeSaved, path, nil)
	r.logger.Info("Recording saved", map[string]interface{}{"path": path})
	return nil
}

// Discard stops the capture if needed and removes the file
func (r *ProcessRecording) Discard(ctx context.Context) error {
	r.op.Lock()
	defer r.op.Unlock()

	if r.State() == StateDiscarded {
		return nil
	}
	if err := r.stop(ctx); err != nil {
		r.logger.Warn("Discarding a recording that did not stop cleanly", map[string]interface{}{"error": err.Error()})
	}
	if err := ValidateTransition(r.State(), StateDiscarded); err != nil {
		return fmt.Errorf("cannot discard %s: %w", r, err)
	}

	if tmp := r.TempPath(); tmp != "" {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.record(ctx, ledger.OutcomeFailed, "", err)
			return fmt.Errorf("failed to discard %s: %w", r, err)
		}
	}

	r.transition(StateDiscarded, 0, "Discarded")
	r.record(ctx, ledger.OutcomeDiscarded, "", nil)
	r.logger.Debug("Recording discarded")
	return nil
}

func (r *ProcessRecording) transition(to State, pid int, message string) {
	r.transitionExit(to, pid, 0, message)
}

func (r *ProcessRecording) transitionExit(to State, pid, exitCode int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ValidateTransition(r.state, to); err != nil {
		r.logger.Warn("Unexpected recording transition", map[string]interface{}{"error": err.Error()})
	}
	r.state = to
	r.events = append(r.events, Event{
		State:     to,
		Timestamp: time.Now(),
		PID:       pid,
		ExitCode:  exitCode,
		Message:   message,
	})
}

// ledgerRetry rides out a ledger briefly locked by a concurrent prune
var ledgerRetry = retry.Config{
	MaxRetries:     3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     time.Second,
	Multiplier:     2,
	Retryable:      ledger.IsTransient,
}

// record writes the outcome to the ledger and metrics
func (r *ProcessRecording) record(ctx context.Context, outcome ledger.Outcome, path string, cause error) {
	r.deps.Metrics.RecordingFinalized(string(r.kind), string(outcome))

	if r.deps.Ledger == nil {
		return
	}

	entry := &ledger.Entry{
		ID:        r.id,
		SessionID: r.deps.SessionID,
		Kind:      string(r.kind),
		Path:      path,
		Outcome:   outcome,
	}
	if r.kind == KindTest && path != "" {
		entry.TestName = filepath.Base(filepath.Dir(path))
	}
	if cause != nil {
		entry.Error = cause.Error()
		// a later discard of the same recording gets its own entry
		entry.ID = uuid.NewString()
	}

	err := retry.Do(ctx, ledgerRetry, func(ctx context.Context) error {
		return r.deps.Ledger.Record(ctx, entry)
	})
	if err != nil {
		r.logger.Warn("Failed to record artifact in ledger", map[string]interface{}{"error": err.Error()})
	}
}

// cleanExit tells whether ffmpeg exited the way it does after an interrupt
func cleanExit(err error) (int, bool) {
	if err == nil {
		return 0, true
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, false
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -1, status.Signal() == syscall.SIGINT
	}

	// ffmpeg exits with 255 when it received a signal
	code := exitErr.ExitCode()
	return code, code == 255
}

// moveFile renames src to dst, copying when they are on different devices
func moveFile(src, dst string) error {
	if src == "" {
		return fmt.Errorf("nothing was recorded")
	}

	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// tailBuffer keeps the last bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = b.data[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
