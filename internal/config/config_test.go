package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/ffrec/pkg/ledger"
	"github.com/psantana5/ffrec/pkg/logging"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, logging.INFO, cfg.LogLevel())
	assert.False(t, cfg.JSONLogs())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ffrec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  artifacts_dir: /tmp/artifacts
  configuration: android.emu
  keep_only_failed: true
  test_timeout: 90s
recorder:
  input_format: lavfi
  input: testsrc=size=640x480:rate=10
  extra_args: ["-t", "60"]
ledger:
  type: memory
log:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/artifacts", cfg.Session.ArtifactsDir)
	assert.Equal(t, "android.emu", cfg.Session.Configuration)
	assert.True(t, cfg.Session.KeepOnlyFailed)
	assert.True(t, cfg.Session.Record)
	assert.Equal(t, 90*time.Second, cfg.Session.TestTimeout)
	assert.Equal(t, "lavfi", cfg.Recorder.InputFormat)
	assert.Equal(t, []string{"-t", "60"}, cfg.Recorder.ExtraArgs)
	assert.Equal(t, "ffmpeg", cfg.Recorder.FFmpegPath)
	assert.Equal(t, 10*time.Second, cfg.Recorder.StopTimeout)
	assert.Equal(t, "memory", cfg.Ledger.Type)
	assert.Equal(t, logging.DEBUG, cfg.LogLevel())
	assert.True(t, cfg.JSONLogs())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())
	t.Setenv("FFREC_SESSION_KEEP_ONLY_FAILED", "true")
	t.Setenv("FFREC_RECORDER_STOP_TIMEOUT", "3s")
	t.Setenv("FFREC_LEDGER_TYPE", "memory")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.True(t, cfg.Session.KeepOnlyFailed)
	assert.Equal(t, 3*time.Second, cfg.Recorder.StopTimeout)
	assert.Equal(t, "memory", cfg.Ledger.Type)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no artifacts dir", func(c *Config) { c.Session.ArtifactsDir = "" }, "artifacts_dir"},
		{"negative timeout", func(c *Config) { c.Session.TestTimeout = -time.Second }, "test_timeout"},
		{"no input", func(c *Config) { c.Recorder.Input = "" }, "recorder"},
		{"bad ledger", func(c *Config) { c.Ledger.Type = "mongo" }, "ledger.type"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"retention without age", func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.MaxAge = 0
		}, "retention.max_age"},
		{"tracing without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.OTLPEndpoint = ""
		}, "otlp_endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateWrapsUnsupportedLedger(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Type = "mongo"
	assert.ErrorIs(t, cfg.Validate(), ledger.ErrUnsupportedLedger)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
