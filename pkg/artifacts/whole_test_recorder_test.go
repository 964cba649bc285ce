package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWholeTestRecorderSavesKeptTests(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	f := &factories{journal: j}
	r := NewWholeTestRecorder(api, f)

	require.NoError(t, r.OnBeforeEach(ctx, running("login")))
	assert.Equal(t, "test-1", nameOf(r.CurrentTestRecording()))
	require.NoError(t, r.OnAfterEach(ctx, passed("login")))
	assert.Nil(t, r.CurrentTestRecording())

	require.NoError(t, api.flush(ctx))
	assert.Equal(t, []string{
		"create:test-1",
		"test-1:start",
		"track:test-1",
		"test-1:stop",
		"test-1:save:/artifacts/login/test.mp4",
		"untrack:test-1",
	}, j.all())
}

func TestWholeTestRecorderDiscardsPassingWhenOnlyFailedKept(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	f := &factories{journal: j}
	r := NewWholeTestRecorder(api, f, WithKeepOnlyFailedTestsArtifacts(true))

	require.NoError(t, r.OnBeforeEach(ctx, running("a")))
	require.NoError(t, r.OnAfterEach(ctx, passed("a")))
	require.NoError(t, r.OnBeforeEach(ctx, running("b")))
	require.NoError(t, r.OnAfterEach(ctx, failed("b")))
	require.NoError(t, api.flush(ctx))

	assert.Equal(t, 1, j.count("test-1:discard"))
	assert.Equal(t, 1, j.count("test-2:save:/artifacts/b/test.mp4"))
	assert.Equal(t, 0, api.trackedCount())
}

func TestWholeTestRecorderSnapshotsSummary(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	f := &factories{journal: j}
	r := NewWholeTestRecorder(api, f)

	summary := passed("first")
	require.NoError(t, r.OnBeforeEach(ctx, summary))
	require.NoError(t, r.OnAfterEach(ctx, summary))
	summary.FullName = "mutated"

	require.NoError(t, api.flush(ctx))
	assert.Equal(t, 1, j.count("test-1:save:/artifacts/first/test.mp4"))
}

func TestWholeTestRecorderStopFailureStillFinalizes(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	f := &factories{journal: j}
	r := NewWholeTestRecorder(api, f)

	require.NoError(t, r.OnBeforeEach(ctx, running("a")))
	f.created[0].stopErr = errors.New("broken pipe")

	err := r.OnAfterEach(ctx, passed("a"))
	require.Error(t, err)
	assert.Equal(t, 1, api.pending())
}

func TestWholeTestRecorderAfterEachWithoutRecording(t *testing.T) {
	ctx := context.Background()
	j := &journal{}
	api := newFakeAPI(j)
	r := NewWholeTestRecorder(api, &factories{journal: j}, WithEnabled(false))

	require.NoError(t, r.OnBeforeEach(ctx, running("a")))
	require.NoError(t, r.OnAfterEach(ctx, failed("a")))
	require.NoError(t, r.OnAfterAll(ctx))
	assert.Empty(t, j.all())
	assert.Equal(t, DecisionKeep, r.ShouldKeepArtifactOfSession())
}
