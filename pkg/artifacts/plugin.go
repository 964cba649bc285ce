package artifacts

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/ffrec/pkg/logging"
)

const tracerName = "github.com/psantana5/ffrec/pkg/artifacts"

type settings struct {
	name           string
	enabled        bool
	keepOnlyFailed bool
	logger         *logging.Logger
	tracer         trace.Tracer
	sessionPolicy  KeepDecisionPolicy
}

// Option configures a recorder
type Option func(*settings)

// WithName sets the name used in logs and spans
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithEnabled turns recording on or off
func WithEnabled(enabled bool) Option {
	return func(s *settings) { s.enabled = enabled }
}

// WithKeepOnlyFailedTestsArtifacts keeps artifacts of failing tests only
func WithKeepOnlyFailedTestsArtifacts(keep bool) Option {
	return func(s *settings) { s.keepOnlyFailed = keep }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTracer sets the tracer used for lifecycle hook spans
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) { s.tracer = t }
}

// WithSessionPolicy overrides the decision used to finalize the startup
// recording. The default is Plugin.ShouldKeepArtifactOfSession.
func WithSessionPolicy(p KeepDecisionPolicy) Option {
	return func(s *settings) { s.sessionPolicy = p }
}

func newSettings(opts []Option) *settings {
	s := &settings{
		name:    "recorder",
		enabled: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Plugin holds the bookkeeping shared by every recorder: whether it is
// enabled, and what it has learned about the session so far.
//
// Hooks are expected to be called sequentially by a single host.
type Plugin struct {
	api    API
	name   string
	logger *logging.Logger
	tracer trace.Tracer

	enabled                      bool
	keepOnlyFailedTestsArtifacts bool
	hasFailingTests              bool
	finishedTests                bool
}

func newPlugin(api API, s *settings) *Plugin {
	return &Plugin{
		api:                          api,
		name:                         s.name,
		logger:                       s.logger.WithField("plugin", s.name),
		tracer:                       s.tracer,
		enabled:                      s.enabled,
		keepOnlyFailedTestsArtifacts: s.keepOnlyFailed,
	}
}

// Name returns the plugin name
func (p *Plugin) Name() string {
	return p.name
}

// Enabled reports whether the plugin records anything
func (p *Plugin) Enabled() bool {
	return p.enabled
}

// Disable stops the plugin from creating new recordings.
// Recordings that already exist are still finalized.
func (p *Plugin) Disable(reason string) {
	if !p.enabled {
		return
	}
	p.enabled = false
	p.logger.Warn("Recording disabled", map[string]interface{}{"reason": reason})
}

// OnReadyToRecord is a no-op for plain plugins
func (p *Plugin) OnReadyToRecord(ctx context.Context) error {
	return nil
}

// OnBeforeEach is a no-op for plain plugins
func (p *Plugin) OnBeforeEach(ctx context.Context, summary *TestSummary) error {
	return nil
}

// OnAfterEach remembers whether any test failed
func (p *Plugin) OnAfterEach(ctx context.Context, summary *TestSummary) error {
	if summary != nil && summary.Status == StatusFailed {
		p.hasFailingTests = true
	}
	return nil
}

// OnAfterAll marks the session as finished
func (p *Plugin) OnAfterAll(ctx context.Context) error {
	p.finishedTests = true
	return nil
}

// ShouldKeepArtifactOfTest tells whether the artifact of a finished test is kept
func (p *Plugin) ShouldKeepArtifactOfTest(summary *TestSummary) bool {
	if p.keepOnlyFailedTestsArtifacts && (summary == nil || summary.Status != StatusFailed) {
		return false
	}
	return true
}

// ShouldKeepArtifactOfSession tells whether artifacts that span the whole
// session are kept. It stays pending until either a test fails or all tests
// are known to have passed.
func (p *Plugin) ShouldKeepArtifactOfSession() Decision {
	if !p.keepOnlyFailedTestsArtifacts {
		return DecisionKeep
	}
	if p.hasFailingTests {
		return DecisionKeep
	}
	if p.finishedTests {
		return DecisionDiscard
	}
	return DecisionPending
}

func (p *Plugin) startSpan(ctx context.Context, hook string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "artifacts."+hook, trace.WithAttributes(
		attribute.String("artifacts.plugin", p.name),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
