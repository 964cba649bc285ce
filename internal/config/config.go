// Package config loads ffrec configuration from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/ffrec/internal/retention"
	"github.com/psantana5/ffrec/internal/tracing"
	"github.com/psantana5/ffrec/pkg/ledger"
	"github.com/psantana5/ffrec/pkg/logging"
	"github.com/psantana5/ffrec/pkg/recorder"
)

// EnvPrefix prefixes every environment override, e.g. FFREC_LOG_LEVEL
const EnvPrefix = "FFREC"

// Config is the effective configuration of ffrec
type Config struct {
	Session   SessionConfig    `mapstructure:"session" yaml:"session" json:"session"`
	Recorder  recorder.Options `mapstructure:"recorder" yaml:"recorder" json:"recorder"`
	Ledger    ledger.Config    `mapstructure:"ledger" yaml:"ledger" json:"ledger"`
	Log       LogConfig        `mapstructure:"log" yaml:"log" json:"log"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing   tracing.Config   `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Retention retention.Config `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// SessionConfig controls what is recorded and where it goes
type SessionConfig struct {
	ArtifactsDir   string `mapstructure:"artifacts_dir" yaml:"artifacts_dir" json:"artifacts_dir"`
	Configuration  string `mapstructure:"configuration" yaml:"configuration" json:"configuration"`
	Record         bool   `mapstructure:"record" yaml:"record" json:"record"`
	KeepOnlyFailed bool   `mapstructure:"keep_only_failed" yaml:"keep_only_failed" json:"keep_only_failed"`
	// TestTimeout bounds each test command, zero means no limit
	TestTimeout     time.Duration `mapstructure:"test_timeout" yaml:"test_timeout" json:"test_timeout"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout" json:"drain_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogConfig selects level and format of the logger
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"` // text or json
	File   bool   `mapstructure:"file" yaml:"file" json:"file"`
}

// MetricsConfig controls the HTTP endpoint and the end-of-run snapshot
type MetricsConfig struct {
	Listen   string `mapstructure:"listen" yaml:"listen" json:"listen"` // empty disables the endpoint
	Snapshot bool   `mapstructure:"snapshot" yaml:"snapshot" json:"snapshot"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Session: SessionConfig{
			ArtifactsDir:    "artifacts",
			Configuration:   "default",
			Record:          true,
			KeepOnlyFailed:  false,
			DrainTimeout:    2 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Recorder: recorder.DefaultOptions(),
		Ledger: ledger.Config{
			Type: "sqlite",
			Path: "artifacts/ffrec.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Snapshot: true,
		},
		Tracing: tracing.Config{
			ServiceName:  "ffrec",
			OTLPEndpoint: "localhost:4318",
			Insecure:     true,
			SampleRatio:  1,
		},
		Retention: retention.DefaultConfig(),
	}
}

// SetDefaults registers every key with its default so that environment
// overrides work for keys missing from the config file
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("session.artifacts_dir", d.Session.ArtifactsDir)
	v.SetDefault("session.configuration", d.Session.Configuration)
	v.SetDefault("session.record", d.Session.Record)
	v.SetDefault("session.keep_only_failed", d.Session.KeepOnlyFailed)
	v.SetDefault("session.test_timeout", d.Session.TestTimeout)
	v.SetDefault("session.drain_timeout", d.Session.DrainTimeout)
	v.SetDefault("session.shutdown_timeout", d.Session.ShutdownTimeout)

	v.SetDefault("recorder.ffmpeg_path", d.Recorder.FFmpegPath)
	v.SetDefault("recorder.input_format", d.Recorder.InputFormat)
	v.SetDefault("recorder.input", d.Recorder.Input)
	v.SetDefault("recorder.resolution", d.Recorder.Resolution)
	v.SetDefault("recorder.frame_rate", d.Recorder.FrameRate)
	v.SetDefault("recorder.codec", d.Recorder.Codec)
	v.SetDefault("recorder.preset", d.Recorder.Preset)
	v.SetDefault("recorder.extra_args", d.Recorder.ExtraArgs)
	v.SetDefault("recorder.extension", d.Recorder.Extension)
	v.SetDefault("recorder.temp_dir", d.Recorder.TempDir)
	v.SetDefault("recorder.stop_timeout", d.Recorder.StopTimeout)

	v.SetDefault("ledger.type", d.Ledger.Type)
	v.SetDefault("ledger.dsn", d.Ledger.DSN)
	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("ledger.max_open_conns", d.Ledger.MaxOpenConns)
	v.SetDefault("ledger.max_idle_conns", d.Ledger.MaxIdleConns)
	v.SetDefault("ledger.conn_max_lifetime", d.Ledger.ConnMaxLifetime)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.snapshot", d.Metrics.Snapshot)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)

	v.SetDefault("retention.enabled", d.Retention.Enabled)
	v.SetDefault("retention.max_age", d.Retention.MaxAge)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.deletes_per_second", d.Retention.DeletesPerSecond)
}

// Prepare wires defaults, the config file location and FFREC_* environment
// variables into v. An empty path searches $HOME/.ffrec and the working
// directory for config.yaml.
func Prepare(v *viper.Viper, path string) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ffrec"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration prepared on v. A missing config file is
// fine unless it was named explicitly.
func Load(v *viper.Viper, path string) (*Config, error) {
	Prepare(v, path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the settings held by v
func Decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and fills in derived defaults
func (c *Config) Validate() error {
	var errs []error

	if c.Session.ArtifactsDir == "" {
		errs = append(errs, errors.New("session.artifacts_dir is required"))
	}
	if c.Session.Configuration == "" {
		errs = append(errs, errors.New("session.configuration is required"))
	}
	if c.Session.TestTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.test_timeout must not be negative, got %s", c.Session.TestTimeout))
	}
	if err := c.Recorder.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: %w", err))
	}

	switch c.Ledger.Type {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("ledger.type %q: %w", c.Ledger.Type, ledger.ErrUnsupportedLedger))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.max_age must be positive when retention is enabled"))
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		errs = append(errs, errors.New("tracing.otlp_endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}

// LogLevel returns the configured logging level
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// JSONLogs reports whether logs are written as JSON
func (c *Config) JSONLogs() bool {
	return c.Log.Format == "json"
}
