package artifacts

import (
	"context"
	"fmt"
)

// tryToFinalizeStartupRecording asks the session policy for a verdict. On
// keep or discard the slot is emptied before any work is scheduled; the
// deferred task works on its own copy of the reference.
func (r *StartupAndTestRecorder) tryToFinalizeStartupRecording(ctx context.Context) {
	decision := DecisionDiscard
	if !r.startupFailed.Load() {
		decision = r.sessionPolicy()
	}

	switch decision {
	case DecisionKeep:
		if recording := r.startup.take(); recording != nil {
			r.startSavingStartupRecording(recording)
		}
	case DecisionDiscard:
		if recording := r.startup.take(); recording != nil {
			r.startDiscardingStartupRecording(recording)
		}
	default:
		r.logger.Debug("Startup recording decision pending")
		return
	}

	r.logger.Info("Startup recording finalized", map[string]interface{}{"decision": decision.String()})
}

func (r *StartupAndTestRecorder) startSavingStartupRecording(recording Recording) {
	r.api.RequestIdleCallback(func(ctx context.Context) error {
		path, err := r.startupFactory.PreparePathForStartupArtifact(ctx)
		if err != nil {
			return fmt.Errorf("failed to prepare startup artifact path: %w", err)
		}
		if err := recording.Save(ctx, path); err != nil {
			return fmt.Errorf("failed to save startup recording to %s: %w", path, err)
		}
		r.api.UntrackArtifact(recording)
		return nil
	})
}

func (r *StartupAndTestRecorder) startDiscardingStartupRecording(recording Recording) {
	r.api.RequestIdleCallback(func(ctx context.Context) error {
		if err := recording.Discard(ctx); err != nil {
			return fmt.Errorf("failed to discard startup recording: %w", err)
		}
		r.api.UntrackArtifact(recording)
		return nil
	})
}
