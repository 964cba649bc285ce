package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	journal   *journal
	api       *fakeAPI
	factories *factories
	decision  Decision
	recorder  *StartupAndTestRecorder
}

func newHarness(opts ...Option) *harness {
	h := &harness{journal: &journal{}, decision: DecisionPending}
	h.api = newFakeAPI(h.journal)
	h.factories = &factories{journal: h.journal}
	opts = append([]Option{WithSessionPolicy(func() Decision { return h.decision })}, opts...)
	h.recorder = NewStartupAndTestRecorder(h.api, h.factories, h.factories, opts...)
	return h
}

func TestReadyToRecordCreatesStartupRecordingOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	}

	assert.Equal(t, 1, h.factories.startups)
	assert.Equal(t, 1, h.journal.count("track:startup"))
	assert.Equal(t, 1, h.journal.count("startup:start"))
	assert.Same(t, h.factories.created[0], h.recorder.CurrentRecording())
	assert.Equal(t, PhaseStartup, h.recorder.Phase())
}

func TestReadyToRecordAfterFirstTestIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnAfterEach(ctx, passed("a")))
	require.NoError(t, h.recorder.OnReadyToRecord(ctx))

	assert.Equal(t, 0, h.factories.startups)
	assert.Nil(t, h.recorder.StartupRecording())
	assert.Equal(t, PhaseTesting, h.recorder.Phase())
}

func TestStartupStopCompletesBeforeTestRecordingStarts(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))

	stop := h.journal.index("startup:stop")
	create := h.journal.index("create:test-1")
	start := h.journal.index("test-1:start")
	require.NotEqual(t, -1, stop)
	assert.Less(t, stop, create)
	assert.Less(t, stop, start)

	// stopped but retained
	assert.NotNil(t, h.recorder.StartupRecording())
	assert.Equal(t, "test-1", nameOf(h.recorder.CurrentRecording()))
}

func TestKeepDecisionSavesThenUntracks(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))

	h.decision = DecisionKeep
	require.NoError(t, h.recorder.OnAfterEach(ctx, passed("a")))

	// cleared synchronously, before any deferred work ran
	assert.Nil(t, h.recorder.StartupRecording())
	assert.Equal(t, 0, h.journal.count("path:startup"))

	require.NoError(t, h.api.flush(ctx))

	save := h.journal.index("startup:save:/artifacts/startup.mp4")
	untrack := h.journal.index("untrack:startup")
	require.NotEqual(t, -1, save)
	require.NotEqual(t, -1, untrack)
	assert.Less(t, h.journal.index("path:startup"), save)
	assert.Less(t, save, untrack)
	assert.Equal(t, 1, h.journal.count("untrack:startup"))
	assert.Equal(t, 0, h.journal.count("startup:discard"))
}

func TestDiscardDecisionNeverResolvesPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	h.decision = DecisionDiscard
	require.NoError(t, h.recorder.OnAfterEach(ctx, passed("a")))
	require.NoError(t, h.api.flush(ctx))

	assert.Equal(t, 1, h.journal.count("startup:discard"))
	assert.Equal(t, 1, h.journal.count("untrack:startup"))
	assert.Equal(t, 0, h.journal.count("path:startup"))
	assert.Less(t, h.journal.index("startup:discard"), h.journal.index("untrack:startup"))
	for _, e := range h.journal.all() {
		assert.NotContains(t, e, "startup:save")
	}
}

func TestPendingDecisionIsRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, h.recorder.OnBeforeEach(ctx, running(name)))
		require.NoError(t, h.recorder.OnAfterEach(ctx, passed(name)))
		assert.NotNil(t, h.recorder.StartupRecording(), "still held after %s", name)
	}
	require.NoError(t, h.api.flush(ctx))
	assert.Equal(t, 0, h.journal.count("untrack:startup"))

	h.decision = DecisionKeep
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("d")))
	require.NoError(t, h.recorder.OnAfterEach(ctx, failed("d")))
	assert.Nil(t, h.recorder.StartupRecording())

	require.NoError(t, h.api.flush(ctx))
	assert.Equal(t, 1, h.journal.count("startup:save:/artifacts/startup.mp4"))
	// stopped exactly once, at the first test boundary
	assert.Equal(t, 1, h.journal.count("startup:stop"))
}

func TestAfterAllFinalizesPendingRecording(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	require.NoError(t, h.recorder.OnAfterEach(ctx, passed("a")))
	require.NotNil(t, h.recorder.StartupRecording())

	h.decision = DecisionDiscard
	require.NoError(t, h.recorder.OnAfterAll(ctx))
	require.NoError(t, h.api.flush(ctx))

	assert.Nil(t, h.recorder.StartupRecording())
	assert.Equal(t, 1, h.journal.count("startup:discard"))
	assert.Equal(t, 0, h.api.trackedCount())
}

func TestFinalizationHappensOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.decision = DecisionKeep

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	require.NoError(t, h.recorder.OnAfterEach(ctx, passed("a")))
	require.NoError(t, h.recorder.OnAfterAll(ctx))
	h.recorder.tryToFinalizeStartupRecording(ctx)
	require.NoError(t, h.api.flush(ctx))

	assert.Equal(t, 1, h.journal.count("startup:save:/artifacts/startup.mp4"))
	assert.Equal(t, 1, h.journal.count("untrack:startup"))
	assert.Equal(t, 0, h.journal.count("startup:discard"))
}

func TestKeepScenarioEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	assert.Equal(t, 1, h.journal.count("track:startup"))

	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	assert.Equal(t, PhaseTesting, h.recorder.Phase())
	assert.Equal(t, 1, h.journal.count("startup:stop"))

	h.decision = DecisionKeep
	require.NoError(t, h.recorder.OnAfterEach(ctx, passed("a")))
	assert.Nil(t, h.recorder.StartupRecording())
	require.NoError(t, h.recorder.OnAfterAll(ctx))
	require.NoError(t, h.api.flush(ctx))

	assert.Nil(t, h.recorder.StartupRecording())
	assert.Equal(t, 1, h.journal.count("startup:save:/artifacts/startup.mp4"))
	assert.Equal(t, 1, h.journal.count("untrack:startup"))
	assert.Equal(t, 0, h.journal.count("startup:discard"))
}

func TestDisabledRecorderIsPassThrough(t *testing.T) {
	ctx := context.Background()
	h := newHarness(WithEnabled(false))
	h.decision = DecisionKeep

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	require.NoError(t, h.recorder.OnAfterEach(ctx, failed("a")))
	require.NoError(t, h.recorder.OnAfterAll(ctx))

	assert.Equal(t, 0, h.factories.startups)
	assert.Equal(t, 0, h.factories.tests)
	assert.Empty(t, h.journal.all())
	assert.Equal(t, 0, h.api.pending())
	assert.Nil(t, h.recorder.CurrentRecording())
}

func TestStartupStartFailureCreatesOnlyOneRecording(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.factories.startupErr = errors.New("no display")
	h.decision = DecisionKeep

	err := h.recorder.OnReadyToRecord(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no display")

	// one setup step per ready-to-record: no new recording is created
	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	assert.Equal(t, 1, h.factories.startups)
	assert.Equal(t, 1, h.journal.count("track:startup"))
	assert.Equal(t, 1, h.journal.count("startup:start"))
	assert.NotNil(t, h.recorder.StartupRecording())

	// never active, so the first test does not stop it
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	assert.Equal(t, 0, h.journal.count("startup:stop"))
	assert.Equal(t, "test-1", nameOf(h.recorder.CurrentRecording()))

	// discarded even though the session decision is keep
	require.NoError(t, h.recorder.OnAfterEach(ctx, failed("a")))
	assert.Nil(t, h.recorder.StartupRecording())
	require.NoError(t, h.api.flush(ctx))
	assert.Equal(t, 1, h.journal.count("startup:discard"))
	assert.Equal(t, 0, h.journal.count("path:startup"))
	assert.Equal(t, 1, h.journal.count("untrack:startup"))
	assert.Equal(t, 0, h.api.trackedCount())
}

func TestStartupStopFailureStillStartsTest(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	h.factories.created[0].stopErr = errors.New("stuck")

	err := h.recorder.OnBeforeEach(ctx, running("a"))
	require.Error(t, err)
	assert.Equal(t, 1, h.journal.count("test-1:start"))
	assert.Equal(t, "test-1", nameOf(h.recorder.CurrentRecording()))
}

func TestSaveFailureIsReportedThroughScheduler(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.factories.saveErr = errors.New("disk full")

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	require.NoError(t, h.recorder.OnBeforeEach(ctx, running("a")))
	h.decision = DecisionKeep

	// the hook itself does not see the failure
	require.NoError(t, h.recorder.OnAfterEach(ctx, passed("a")))

	err := h.api.flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, h.journal.count("untrack:startup"))
	assert.Nil(t, h.recorder.StartupRecording())
}

func TestDefaultSessionPolicy(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	f := &factories{journal: j}
	r := NewStartupAndTestRecorder(api, f, f, WithKeepOnlyFailedTestsArtifacts(true))

	require.NoError(t, r.OnReadyToRecord(ctx))
	require.NoError(t, r.OnBeforeEach(ctx, running("a")))
	require.NoError(t, r.OnAfterEach(ctx, passed("a")))
	assert.NotNil(t, r.StartupRecording(), "pending while all tests pass")

	require.NoError(t, r.OnAfterAll(ctx))
	assert.Nil(t, r.StartupRecording())
	require.NoError(t, api.flush(ctx))
	assert.Equal(t, 1, j.count("startup:discard"))
}

func TestDefaultSessionPolicyKeepsAfterFailure(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	f := &factories{journal: j}
	r := NewStartupAndTestRecorder(api, f, f, WithKeepOnlyFailedTestsArtifacts(true))

	require.NoError(t, r.OnReadyToRecord(ctx))
	require.NoError(t, r.OnBeforeEach(ctx, running("a")))
	require.NoError(t, r.OnAfterEach(ctx, failed("a")))
	assert.Nil(t, r.StartupRecording())

	require.NoError(t, api.flush(ctx))
	assert.Equal(t, 1, j.count("startup:save:/artifacts/startup.mp4"))
	// the failed test's own recording is kept too
	assert.Equal(t, 1, j.count("test-1:save:/artifacts/a/test.mp4"))
}

func TestAfterAllWithoutTests(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	require.NoError(t, h.recorder.OnReadyToRecord(ctx))
	h.decision = DecisionKeep
	require.NoError(t, h.recorder.OnAfterAll(ctx))
	require.NoError(t, h.api.flush(ctx))

	assert.Equal(t, 1, h.journal.count("startup:save:/artifacts/startup.mp4"))
	assert.Equal(t, 1, h.journal.count("untrack:startup"))
}

func TestFuncAdapters(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	startup := StartupRecordingFuncs{
		Create:      func() Recording { return &fakeRecording{name: "startup", journal: j} },
		PreparePath: func(ctx context.Context) (string, error) { return "/s.mp4", nil },
	}
	tests := TestRecordingFuncs{
		Create: func() Recording { return &fakeRecording{name: "t", journal: j} },
		PreparePath: func(ctx context.Context, s *TestSummary) (string, error) {
			return "/" + s.FullName + ".mp4", nil
		},
	}
	r := NewStartupAndTestRecorder(api, startup, tests, WithSessionPolicy(func() Decision { return DecisionKeep }))

	require.NoError(t, r.OnReadyToRecord(ctx))
	require.NoError(t, r.OnBeforeEach(ctx, running("x")))
	require.NoError(t, r.OnAfterEach(ctx, passed("x")))
	require.NoError(t, api.flush(ctx))

	assert.Equal(t, 1, j.count("startup:save:/s.mp4"))
	assert.Equal(t, 1, j.count("t:save:/x.mp4"))
}
