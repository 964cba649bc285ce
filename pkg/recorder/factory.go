package recorder

import (
	"context"

	"github.com/psantana5/ffrec/pkg/artifacts"
)

// PathPreparer resolves artifact destinations. The artifacts manager is one.
type PathPreparer interface {
	PreparePathForArtifact(ctx context.Context, name string, summary *artifacts.TestSummary) (string, error)
}

// VideoFactory creates ffmpeg recordings for both the startup phase and tests
type VideoFactory struct {
	paths PathPreparer
	opts  Options
	deps  Deps
}

var (
	_ artifacts.StartupRecordingFactory = (*VideoFactory)(nil)
	_ artifacts.TestRecordingFactory    = (*VideoFactory)(nil)
)

// NewVideoFactory creates a factory sharing opts and deps across recordings
func NewVideoFactory(paths PathPreparer, opts Options, deps Deps) *VideoFactory {
	if opts.Extension == "" {
		opts.Extension = DefaultOptions().Extension
	}
	return &VideoFactory{paths: paths, opts: opts, deps: deps}
}

func (f *VideoFactory) CreateStartupRecording() artifacts.Recording {
	return New(KindStartup, f.opts, f.deps)
}

func (f *VideoFactory) PreparePathForStartupArtifact(ctx context.Context) (string, error) {
	return f.paths.PreparePathForArtifact(ctx, "startup."+f.opts.Extension, nil)
}

func (f *VideoFactory) CreateTestRecording() artifacts.Recording {
	return New(KindTest, f.opts, f.deps)
}

func (f *VideoFactory) PreparePathForTestArtifact(ctx context.Context, summary *artifacts.TestSummary) (string, error) {
	return f.paths.PreparePathForArtifact(ctx, "test."+f.opts.Extension, summary)
}
