package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// journal records calls across recordings and the API in order
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.all() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) index(entry string) int {
	for i, e := range j.all() {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeRecording struct {
	name     string
	journal  *journal
	startErr error
	stopErr  error
	saveErr  error
}

func (f *fakeRecording) Start(ctx context.Context) error {
	f.journal.add("%s:start", f.name)
	return f.startErr
}

func (f *fakeRecording) Stop(ctx context.Context) error {
	f.journal.add("%s:stop", f.name)
	return f.stopErr
}

func (f *fakeRecording) Save(ctx context.Context, path string) error {
	f.journal.add("%s:save:%s", f.name, path)
	return f.saveErr
}

func (f *fakeRecording) Discard(ctx context.Context) error {
	f.journal.add("%s:discard", f.name)
	return nil
}

// fakeAPI queues idle tasks until flush is called
type fakeAPI struct {
	journal *journal
	mu      sync.Mutex
	tracked map[Recording]bool
	tasks   []IdleTask
	errs    []error
}

func newFakeAPI(j *journal) *fakeAPI {
	return &fakeAPI{journal: j, tracked: make(map[Recording]bool)}
}

func (a *fakeAPI) TrackArtifact(r Recording) {
	a.mu.Lock()
	a.tracked[r] = true
	a.mu.Unlock()
	a.journal.add("track:%s", nameOf(r))
}

func (a *fakeAPI) UntrackArtifact(r Recording) {
	a.mu.Lock()
	delete(a.tracked, r)
	a.mu.Unlock()
	a.journal.add("untrack:%s", nameOf(r))
}

func (a *fakeAPI) RequestIdleCallback(task IdleTask) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, task)
}

func (a *fakeAPI) PreparePathForArtifact(ctx context.Context, name string, summary *TestSummary) (string, error) {
	if summary == nil {
		return "/artifacts/" + name, nil
	}
	return "/artifacts/" + summary.FullName + "/" + name, nil
}

func (a *fakeAPI) pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

func (a *fakeAPI) trackedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tracked)
}

// flush runs every queued task in order, including tasks queued meanwhile
func (a *fakeAPI) flush(ctx context.Context) error {
	for {
		a.mu.Lock()
		if len(a.tasks) == 0 {
			a.mu.Unlock()
			return errors.Join(a.errs...)
		}
		task := a.tasks[0]
		a.tasks = a.tasks[1:]
		a.mu.Unlock()

		if err := task(ctx); err != nil {
			a.errs = append(a.errs, err)
		}
	}
}

func nameOf(r Recording) string {
	if f, ok := r.(*fakeRecording); ok {
		return f.name
	}
	return "?"
}

// factories hands out named fake recordings and counts what was asked of it
type factories struct {
	journal    *journal
	startups   int
	tests      int
	startupErr error
	saveErr    error
	created    []*fakeRecording
}

func (f *factories) CreateStartupRecording() Recording {
	f.startups++
	rec := &fakeRecording{name: "startup", journal: f.journal, startErr: f.startupErr, saveErr: f.saveErr}
	f.journal.add("create:startup")
	f.created = append(f.created, rec)
	return rec
}

func (f *factories) PreparePathForStartupArtifact(ctx context.Context) (string, error) {
	f.journal.add("path:startup")
	return "/artifacts/startup.mp4", nil
}

func (f *factories) CreateTestRecording() Recording {
	f.tests++
	rec := &fakeRecording{name: fmt.Sprintf("test-%d", f.tests), journal: f.journal}
	f.journal.add("create:%s", rec.name)
	f.created = append(f.created, rec)
	return rec
}

func (f *factories) PreparePathForTestArtifact(ctx context.Context, summary *TestSummary) (string, error) {
	return "/artifacts/" + summary.FullName + "/test.mp4", nil
}

func passed(name string) *TestSummary {
	return &TestSummary{Title: name, FullName: name, Status: StatusPassed}
}

func failed(name string) *TestSummary {
	return &TestSummary{Title: name, FullName: name, Status: StatusFailed}
}

func running(name string) *TestSummary {
	return &TestSummary{Title: name, FullName: name, Status: StatusRunning}
}
