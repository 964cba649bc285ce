package session

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/ffrec/pkg/artifacts"
)

// StepResult is the outcome of a setup step
type StepResult struct {
	Name     string        `json:"name"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// TestResult is the final outcome of a test after retries
type TestResult struct {
	Name        string               `json:"name"`
	FullName    string               `json:"full_name"`
	Status      artifacts.TestStatus `json:"status"`
	Invocations int                  `json:"invocations"`
	ExitCode    int                  `json:"exit_code"`
	Duration    time.Duration        `json:"duration_ns"`
	Error       string               `json:"error,omitempty"`
}

// Report summarizes a session run. It is written once by the runner.
type Report struct {
	Name        string        `json:"name"`
	SessionID   string        `json:"session_id,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`
	Setup       []StepResult  `json:"setup,omitempty"`
	Tests       []TestResult  `json:"tests"`
	HookErrors  []string      `json:"hook_errors,omitempty"`
}

func newReport(name, sessionID string) *Report {
	return &Report{Name: name, SessionID: sessionID, StartedAt: time.Now()}
}

func (r *Report) complete() {
	r.CompletedAt = time.Now()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
}

func (r *Report) addStep(s Step, res commandResult) {
	sr := StepResult{Name: s.Name, ExitCode: res.ExitCode, Duration: res.Duration}
	if res.Err != nil {
		sr.Error = res.Err.Error()
	}
	r.Setup = append(r.Setup, sr)
}

func (r *Report) addTest(tc TestCase, summary *artifacts.TestSummary, res commandResult) {
	tr := TestResult{
		Name:        tc.Name,
		FullName:    summary.FullName,
		Status:      summary.Status,
		Invocations: summary.Invocations,
		ExitCode:    res.ExitCode,
		Duration:    res.Duration,
	}
	if res.Err != nil {
		tr.Error = res.Err.Error()
	}
	r.Tests = append(r.Tests, tr)
}

// Passed counts passed tests
func (r *Report) Passed() int {
	return r.count(artifacts.StatusPassed)
}

// Failed counts failed tests
func (r *Report) Failed() int {
	return r.count(artifacts.StatusFailed)
}

func (r *Report) count(status artifacts.TestStatus) int {
	n := 0
	for _, t := range r.Tests {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Success reports whether setup succeeded and every test passed
func (r *Report) Success() bool {
	for _, s := range r.Setup {
		if s.ExitCode != 0 || s.Error != "" {
			return false
		}
	}
	return r.Failed() == 0
}

// WriteTable renders the report as a table
func (r *Report) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.Header("Test", "Status", "Runs", "Exit", "Duration")

	for _, s := range r.Setup {
		status := "ok"
		if s.ExitCode != 0 || s.Error != "" {
			status = "failed"
		}
		table.Append([]string{"setup: " + s.Name, status, "1", fmt.Sprintf("%d", s.ExitCode), s.Duration.Round(time.Millisecond).String()})
	}
	for _, t := range r.Tests {
		table.Append([]string{t.FullName, string(t.Status), fmt.Sprintf("%d", t.Invocations), fmt.Sprintf("%d", t.ExitCode), t.Duration.Round(time.Millisecond).String()})
	}
	table.Render()

	fmt.Fprintf(w, "%d passed, %d failed in %s\n", r.Passed(), r.Failed(), r.Duration.Round(time.Millisecond))
}
