// Package session drives the recorder lifecycle from a test plan.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Step is a setup command, e.g. launching the app under test
type Step struct {
	Name    string        `yaml:"name" json:"name"`
	Command []string      `yaml:"command" json:"command"`
	Dir     string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env     []string      `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// TestCase is one test command. Exit code zero means passed.
type TestCase struct {
	Name    string        `yaml:"name" json:"name"`
	Suite   string        `yaml:"suite,omitempty" json:"suite,omitempty"`
	Command []string      `yaml:"command" json:"command"`
	Dir     string        `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env     []string      `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Retries re-runs a failing test, each run being a new invocation
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// FullName is the suite followed by the test name
func (t TestCase) FullName() string {
	if t.Suite == "" {
		return t.Name
	}
	return t.Suite + " " + t.Name
}

// Plan is a recorded session: setup steps followed by tests
type Plan struct {
	Name  string     `yaml:"name" json:"name"`
	Setup []Step     `yaml:"setup,omitempty" json:"setup,omitempty"`
	Tests []TestCase `yaml:"tests" json:"tests"`
}

// ParsePlan decodes a YAML plan. Unknown keys are rejected.
func ParsePlan(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPlan reads and parses the plan at path
func LoadPlan(fs afero.Fs, path string) (*Plan, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// Validate checks that every step and test can be run
func (p *Plan) Validate() error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, errors.New("plan name is required"))
	}
	if len(p.Tests) == 0 {
		errs = append(errs, errors.New("plan has no tests"))
	}
	for i, s := range p.Setup {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("setup[%d]: name is required", i))
		}
		if len(s.Command) == 0 {
			errs = append(errs, fmt.Errorf("setup[%d] %q: command is required", i, s.Name))
		}
	}

	seen := make(map[string]bool)
	for i, t := range p.Tests {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tests[%d]: name is required", i))
		}
		if len(t.Command) == 0 {
			errs = append(errs, fmt.Errorf("tests[%d] %q: command is required", i, t.Name))
		}
		if t.Retries < 0 {
			errs = append(errs, fmt.Errorf("tests[%d] %q: retries must not be negative", i, t.Name))
		}
		if seen[t.FullName()] {
			errs = append(errs, fmt.Errorf("tests[%d]: duplicate test %q", i, t.FullName()))
		}
		seen[t.FullName()] = true
	}

	return errors.Join(errs...)
}
