package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Phase of the process with respect to test execution
type Phase int

const (
	// PhaseStartup lasts until the first test begins.
	PhaseStartup Phase = iota
	// PhaseTesting is entered on the first before-each and never left.
	PhaseTesting
)

func (p Phase) String() string {
	if p == PhaseTesting {
		return "testing"
	}
	return "startup"
}

// StartupAndTestRecorder is a WholeTestRecorder that additionally records
// everything that happens before the first test. The startup recording is
// stopped when the first test begins and kept or discarded once the session
// decision is known.
//
// Startup recording states:
//
//	NONE    --OnReadyToRecord (eligible)--> ACTIVE
//	NONE    --OnReadyToRecord (Start fails)--> FAILED (held, discarded on next finalization)
//	ACTIVE  --OnBeforeEach-->               STOPPED (still held)
//	STOPPED --keep-->                       SAVING     --> RELEASED
//	STOPPED --discard-->                    DISCARDING --> RELEASED
//	STOPPED --pending-->                    STOPPED
type StartupAndTestRecorder struct {
	*WholeTestRecorder

	startupFactory StartupRecordingFactory
	sessionPolicy  KeepDecisionPolicy

	startup            recordingSlot
	inStartupPhase     atomic.Bool
	isRecordingStartup atomic.Bool
	startupFailed      atomic.Bool
}

// NewStartupAndTestRecorder creates a recorder for both the startup phase and each test
func NewStartupAndTestRecorder(api API, startup StartupRecordingFactory, tests TestRecordingFactory, opts ...Option) *StartupAndTestRecorder {
	s := newSettings(opts)
	r := &StartupAndTestRecorder{
		WholeTestRecorder: newWholeTestRecorder(api, tests, s),
		startupFactory:    startup,
	}
	r.sessionPolicy = s.sessionPolicy
	if r.sessionPolicy == nil {
		r.sessionPolicy = r.ShouldKeepArtifactOfSession
	}
	r.inStartupPhase.Store(true)
	return r
}

// Phase returns the current phase
func (r *StartupAndTestRecorder) Phase() Phase {
	if r.inStartupPhase.Load() {
		return PhaseStartup
	}
	return PhaseTesting
}

// StartupRecording returns the startup recording while it is still held
func (r *StartupAndTestRecorder) StartupRecording() Recording {
	return r.startup.peek()
}

// CurrentRecording returns the recording that is capturing right now: the
// startup recording while it is active, otherwise the test recording.
func (r *StartupAndTestRecorder) CurrentRecording() Recording {
	if r.isRecordingStartup.Load() {
		if rec := r.startup.peek(); rec != nil {
			return rec
		}
	}
	return r.CurrentTestRecording()
}

// OnReadyToRecord starts the startup recording the first time it is called
// during the startup phase. Later calls are no-ops.
func (r *StartupAndTestRecorder) OnReadyToRecord(ctx context.Context) (err error) {
	ctx, span := r.startSpan(ctx, "OnReadyToRecord")
	defer func() { endSpan(span, err) }()

	if err := r.WholeTestRecorder.OnReadyToRecord(ctx); err != nil {
		return err
	}

	if !r.Enabled() || !r.inStartupPhase.Load() || r.startup.peek() != nil {
		return nil
	}

	recording := r.startupFactory.CreateStartupRecording()
	r.startup.put(recording)
	r.api.TrackArtifact(recording)

	if err := recording.Start(ctx); err != nil {
		// Held but never active: later calls are no-ops and finalization discards it
		r.startupFailed.Store(true)
		return fmt.Errorf("failed to start startup recording: %w", err)
	}
	r.isRecordingStartup.Store(true)

	r.logger.Info("Startup recording started")
	return nil
}

// OnBeforeEach ends the startup phase. An active startup recording is
// stopped before the test recording is started.
func (r *StartupAndTestRecorder) OnBeforeEach(ctx context.Context, summary *TestSummary) (err error) {
	r.inStartupPhase.Store(false)

	var stopErr error
	if r.isRecordingStartup.Load() {
		if recording := r.startup.peek(); recording != nil {
			if err := recording.Stop(ctx); err != nil {
				stopErr = fmt.Errorf("failed to stop startup recording: %w", err)
				r.logger.Error("Startup recording did not stop cleanly", map[string]interface{}{"error": err.Error()})
			} else {
				r.logger.Info("Startup recording stopped", testFields(summary))
			}
		}
		r.isRecordingStartup.Store(false)
	}

	if err := r.WholeTestRecorder.OnBeforeEach(ctx, summary); err != nil {
		return errors.Join(stopErr, err)
	}
	return stopErr
}

// OnAfterEach finishes the test recording and tries to finalize the startup one
func (r *StartupAndTestRecorder) OnAfterEach(ctx context.Context, summary *TestSummary) error {
	err := r.WholeTestRecorder.OnAfterEach(ctx, summary)

	if r.startup.peek() != nil {
		r.tryToFinalizeStartupRecording(ctx)
	}

	return err
}

// OnAfterAll gives the startup recording a last chance to be finalized, for
// sessions in which no after-each resolved the decision.
func (r *StartupAndTestRecorder) OnAfterAll(ctx context.Context) error {
	err := r.WholeTestRecorder.OnAfterAll(ctx)

	if r.startup.peek() != nil {
		r.tryToFinalizeStartupRecording(ctx)
	}

	return err
}

var _ Lifecycle = (*StartupAndTestRecorder)(nil)
