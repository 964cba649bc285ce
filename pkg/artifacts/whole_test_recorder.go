package artifacts

import (
	"context"
	"fmt"
	"sync"
)

// WholeTestRecorder records every test from its before-each to its after-each.
type WholeTestRecorder struct {
	*Plugin

	factory TestRecordingFactory

	mu            sync.Mutex
	testRecording Recording
}

// NewWholeTestRecorder creates a per-test recorder
func NewWholeTestRecorder(api API, factory TestRecordingFactory, opts ...Option) *WholeTestRecorder {
	return newWholeTestRecorder(api, factory, newSettings(opts))
}

func newWholeTestRecorder(api API, factory TestRecordingFactory, s *settings) *WholeTestRecorder {
	return &WholeTestRecorder{
		Plugin:  newPlugin(api, s),
		factory: factory,
	}
}

// CurrentTestRecording returns the recording of the running test, if any
func (r *WholeTestRecorder) CurrentTestRecording() Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.testRecording
}

// OnBeforeEach starts a fresh recording for the test
func (r *WholeTestRecorder) OnBeforeEach(ctx context.Context, summary *TestSummary) (err error) {
	ctx, span := r.startSpan(ctx, "OnBeforeEach")
	defer func() { endSpan(span, err) }()

	if err := r.Plugin.OnBeforeEach(ctx, summary); err != nil {
		return err
	}
	if !r.Enabled() {
		return nil
	}

	recording := r.factory.CreateTestRecording()
	if err := recording.Start(ctx); err != nil {
		return fmt.Errorf("failed to start test recording: %w", err)
	}

	r.api.TrackArtifact(recording)
	r.mu.Lock()
	r.testRecording = recording
	r.mu.Unlock()

	r.logger.Debug("Test recording started", testFields(summary))
	return nil
}

// OnAfterEach stops the test recording and schedules its save or discard
func (r *WholeTestRecorder) OnAfterEach(ctx context.Context, summary *TestSummary) (err error) {
	ctx, span := r.startSpan(ctx, "OnAfterEach")
	defer func() { endSpan(span, err) }()

	if err := r.Plugin.OnAfterEach(ctx, summary); err != nil {
		return err
	}

	r.mu.Lock()
	recording := r.testRecording
	r.testRecording = nil
	r.mu.Unlock()

	if recording == nil {
		return nil
	}

	var stopErr error
	if err := recording.Stop(ctx); err != nil {
		stopErr = fmt.Errorf("failed to stop test recording: %w", err)
		r.logger.Error("Test recording did not stop cleanly", map[string]interface{}{"error": err.Error()})
	}

	if r.ShouldKeepArtifactOfTest(summary) {
		r.startSavingTestRecording(recording, summary)
	} else {
		r.startDiscardingTestRecording(recording)
	}

	return stopErr
}

// OnAfterAll finishes the session bookkeeping
func (r *WholeTestRecorder) OnAfterAll(ctx context.Context) (err error) {
	ctx, span := r.startSpan(ctx, "OnAfterAll")
	defer func() { endSpan(span, err) }()

	return r.Plugin.OnAfterAll(ctx)
}

func (r *WholeTestRecorder) startSavingTestRecording(recording Recording, summary *TestSummary) {
	var snapshot *TestSummary
	if summary != nil {
		s := *summary
		snapshot = &s
	}

	r.api.RequestIdleCallback(func(ctx context.Context) error {
		path, err := r.factory.PreparePathForTestArtifact(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("failed to prepare test artifact path: %w", err)
		}
		if err := recording.Save(ctx, path); err != nil {
			return fmt.Errorf("failed to save test recording to %s: %w", path, err)
		}
		r.api.UntrackArtifact(recording)
		return nil
	})
}

func (r *WholeTestRecorder) startDiscardingTestRecording(recording Recording) {
	r.api.RequestIdleCallback(func(ctx context.Context) error {
		if err := recording.Discard(ctx); err != nil {
			return fmt.Errorf("failed to discard test recording: %w", err)
		}
		r.api.UntrackArtifact(recording)
		return nil
	})
}

func testFields(summary *TestSummary) map[string]interface{} {
	if summary == nil {
		return nil
	}
	return map[string]interface{}{
		"test":   summary.FullName,
		"status": string(summary.Status),
	}
}

var _ Lifecycle = (*WholeTestRecorder)(nil)
