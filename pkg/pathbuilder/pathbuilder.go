// Package pathbuilder decides where artifacts land on disk.
package pathbuilder

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/psantana5/ffrec/pkg/artifacts"
)

// RootDirTimeFormat is the timestamp suffix of a session root directory
const RootDirTimeFormat = "2006-01-02 15-04-05Z"

// maxNameBytes is the file name limit of common file systems
const maxNameBytes = 255

const (
	passedPrefix = "✓ "
	failedPrefix = "✗ "
)

// BuildRootDir returns <base>/<configuration>.<UTC timestamp>
func BuildRootDir(base, configuration string, now time.Time) string {
	name := SanitizeFileName(configuration + "." + now.UTC().Format(RootDirTimeFormat))
	return filepath.Join(base, name)
}

// Builder lays out artifact paths under a session root directory
type Builder struct {
	root string
}

// New creates a builder for the given root directory
func New(root string) *Builder {
	return &Builder{root: root}
}

// Root returns the session root directory
func (b *Builder) Root() string {
	return b.root
}

// BuildPathForTestArtifact returns the destination of an artifact.
// Artifacts without a test go straight into the root directory.
func (b *Builder) BuildPathForTestArtifact(name string, summary *artifacts.TestSummary) string {
	name = SanitizeFileName(name)
	if summary == nil {
		return filepath.Join(b.root, name)
	}

	dir := SanitizeFileName(statusPrefix(summary.Status) + testName(summary))
	return filepath.Join(b.root, dir, name)
}

func statusPrefix(status artifacts.TestStatus) string {
	switch status {
	case artifacts.StatusPassed:
		return passedPrefix
	case artifacts.StatusFailed:
		return failedPrefix
	default:
		return ""
	}
}

func testName(summary *artifacts.TestSummary) string {
	if summary.FullName != "" {
		return summary.FullName
	}
	return summary.Title
}

// SanitizeFileName makes a single path segment out of arbitrary text
func SanitizeFileName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			continue
		case strings.ContainsRune(`/\?<>:*|"`, r):
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}

	out := strings.TrimRight(sb.String(), ". ")
	if out == "" || out == "." || out == ".." {
		out = "_"
	}
	return truncate(out, maxNameBytes)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// Prepare creates the parent directory of path
func Prepare(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory for %s: %w", path, err)
	}
	return nil
}
