// Package artifacts decides when test-session recordings start, stop and
// get persisted or thrown away.
//
// A host (test runner) drives the package through four lifecycle events:
// ready-to-record, before-each, after-each and after-all. Recorders react
// to those events and hand the slow part of the work (saving, discarding)
// to an idle scheduler so that the test run never waits on artifact I/O.
package artifacts

import "context"

// Recording is a single capture owned by a recorder until it is finalized.
type Recording interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Save(ctx context.Context, path string) error
	Discard(ctx context.Context) error
}

// TestStatus is the outcome of a test as reported by the host
type TestStatus string

const (
	StatusRunning TestStatus = "running"
	StatusPassed  TestStatus = "passed"
	StatusFailed  TestStatus = "failed"
)

// TestSummary describes the test a lifecycle event belongs to
type TestSummary struct {
	Title       string     `json:"title" yaml:"title"`
	FullName    string     `json:"full_name" yaml:"full_name"`
	Status      TestStatus `json:"status" yaml:"status"`
	Invocations int        `json:"invocations,omitempty" yaml:"invocations,omitempty"`
}

// Decision is the verdict on whether an artifact is worth keeping
type Decision int

const (
	// DecisionPending means the verdict is not known yet; ask again later.
	DecisionPending Decision = iota
	DecisionKeep
	DecisionDiscard
)

func (d Decision) String() string {
	switch d {
	case DecisionKeep:
		return "keep"
	case DecisionDiscard:
		return "discard"
	default:
		return "pending"
	}
}

// KeepDecisionPolicy tells whether the artifacts of the whole session should be kept
type KeepDecisionPolicy func() Decision

// IdleTask is deferred work. Its error is reported by the scheduler, never
// returned to whoever scheduled it.
type IdleTask func(ctx context.Context) error

// API is what recorders need from the artifacts manager.
type API interface {
	// TrackArtifact registers a live recording for accounting.
	TrackArtifact(r Recording)
	// UntrackArtifact releases a recording from accounting.
	UntrackArtifact(r Recording)
	// RequestIdleCallback runs task later without blocking the caller.
	RequestIdleCallback(task IdleTask)
	// PreparePathForArtifact returns a destination path whose directory exists.
	// summary is nil for artifacts that do not belong to a test.
	PreparePathForArtifact(ctx context.Context, name string, summary *TestSummary) (string, error)
}

// Lifecycle is the set of events a host delivers to a recorder
type Lifecycle interface {
	OnReadyToRecord(ctx context.Context) error
	OnBeforeEach(ctx context.Context, summary *TestSummary) error
	OnAfterEach(ctx context.Context, summary *TestSummary) error
	OnAfterAll(ctx context.Context) error
}

// TestRecordingFactory creates per-test recordings and resolves where they go
type TestRecordingFactory interface {
	CreateTestRecording() Recording
	PreparePathForTestArtifact(ctx context.Context, summary *TestSummary) (string, error)
}

// StartupRecordingFactory creates the startup recording and resolves where it goes
type StartupRecordingFactory interface {
	CreateStartupRecording() Recording
	PreparePathForStartupArtifact(ctx context.Context) (string, error)
}

// TestRecordingFuncs adapts two functions to TestRecordingFactory
type TestRecordingFuncs struct {
	Create      func() Recording
	PreparePath func(ctx context.Context, summary *TestSummary) (string, error)
}

func (f TestRecordingFuncs) CreateTestRecording() Recording {
	return f.Create()
}

func (f TestRecordingFuncs) PreparePathForTestArtifact(ctx context.Context, summary *TestSummary) (string, error) {
	return f.PreparePath(ctx, summary)
}

// StartupRecordingFuncs adapts two functions to StartupRecordingFactory
type StartupRecordingFuncs struct {
	Create      func() Recording
	PreparePath func(ctx context.Context) (string, error)
}

func (f StartupRecordingFuncs) CreateStartupRecording() Recording {
	return f.Create()
}

func (f StartupRecordingFuncs) PreparePathForStartupArtifact(ctx context.Context) (string, error) {
	return f.PreparePath(ctx)
}
