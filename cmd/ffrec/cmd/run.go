package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/psantana5/ffrec/internal/retention"
	"github.com/psantana5/ffrec/internal/server"
	"github.com/psantana5/ffrec/internal/session"
	"github.com/psantana5/ffrec/internal/shutdown"
	"github.com/psantana5/ffrec/internal/tracing"
	"github.com/psantana5/ffrec/pkg/artifacts"
	"github.com/psantana5/ffrec/pkg/ledger"
	"github.com/psantana5/ffrec/pkg/logging"
	"github.com/psantana5/ffrec/pkg/manager"
	"github.com/psantana5/ffrec/pkg/metrics"
	"github.com/psantana5/ffrec/pkg/pathbuilder"
	"github.com/psantana5/ffrec/pkg/recorder"
)

var (
	runNoRecord       bool
	runKeepOnlyFailed bool
	runListen         string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a test plan while recording",
	Long: `Run the setup steps and tests of a plan. The screen is recorded from
the first setup step on. Artifacts are written below
<artifacts_dir>/<configuration>.<timestamp>/ and every saved or discarded
video is written to the ledger.`,
	Args: cobra.ExactArgs(1),
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runNoRecord, "no-record", false, "run the plan without recording")
	runCmd.Flags().BoolVar(&runKeepOnlyFailed, "keep-only-failed", false, "keep videos of failed tests only")
	runCmd.Flags().StringVar(&runListen, "listen", "", "serve /metrics, /health and /artifacts on this address")
}

func runSession(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()

	plan, err := session.LoadPlan(fs, args[0])
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("no-record") {
		cfg.Session.Record = !runNoRecord
	}
	if cmd.Flags().Changed("keep-only-failed") {
		cfg.Session.KeepOnlyFailed = runKeepOnlyFailed
	}
	if runListen != "" {
		cfg.Metrics.Listen = runListen
	}

	sessionID := uuid.NewString()
	log := logger.WithFields(map[string]interface{}{"session_id": sessionID, "plan": plan.Name})

	ctx, stop := shutdown.NotifyContext(cmd.Context())
	defer stop()

	shutdownMgr := shutdown.New(cfg.Session.ShutdownTimeout, log)
	defer func() {
		if err := shutdownMgr.Shutdown(); err != nil {
			log.Error("Shutdown incomplete", map[string]interface{}{"error": err.Error()})
		}
	}()

	l, err := openLedger(fs)
	if err != nil {
		return err
	}
	shutdownMgr.Register("ledger", shutdown.CloseResource(l))

	tp, err := tracing.InitTracer(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	shutdownMgr.Register("tracing", tp.Shutdown)

	m := metrics.New()
	root := pathbuilder.BuildRootDir(cfg.Session.ArtifactsDir, cfg.Session.Configuration, time.Now())

	mgr := manager.New(manager.Config{
		RootDir: root,
		Fs:      fs,
		Metrics: m,
		Logger:  log.WithField("component", "manager"),
	})
	shutdownMgr.Register("manager", func(context.Context) error {
		mgr.Close()
		return nil
	})

	factory := recorder.NewVideoFactory(mgr, cfg.Recorder, recorder.Deps{
		SessionID: sessionID,
		Ledger:    l,
		Metrics:   m,
		Logger:    log.WithField("component", "recorder"),
	})
	mgr.RegisterPlugin(artifacts.NewStartupAndTestRecorder(mgr, factory, factory,
		artifacts.WithEnabled(cfg.Session.Record),
		artifacts.WithKeepOnlyFailedTestsArtifacts(cfg.Session.KeepOnlyFailed),
		artifacts.WithLogger(log.WithField("component", "video")),
		artifacts.WithTracer(tp.Tracer()),
	))

	if cfg.Metrics.Listen != "" {
		srv := server.New(cfg.Metrics.Listen, &server.Handler{
			Ledger:  l,
			Metrics: m,
			Session: mgr,
			Tracing: tp,
			Logger:  log.WithField("component", "http"),
		})
		server.Serve(srv, log)
		shutdownMgr.Register("http", shutdown.StopHTTPServer(srv))
	}

	pruner := retention.New(cfg.Retention, l, fs, log.WithField("component", "retention"))
	pruner.Start()
	shutdownMgr.Register("retention", func(context.Context) error {
		pruner.Stop()
		return nil
	})

	log.Info("Starting session", map[string]interface{}{
		"root":   root,
		"record": cfg.Session.Record,
		"tests":  len(plan.Tests),
	})

	runner := session.NewRunner(plan, mgr, session.Options{
		SessionID:    sessionID,
		TestTimeout:  cfg.Session.TestTimeout,
		DrainTimeout: cfg.Session.DrainTimeout,
		Metrics:      m,
		Logger:       log,
	})
	report, runErr := runner.Run(ctx)

	if ctx.Err() != nil {
		log.Warn("Session interrupted, discarding unfinished recordings")
	}
	discardLeftovers(mgr, cfg.Session.ShutdownTimeout, log)

	for _, taskErr := range mgr.Errors() {
		log.Error("Deferred artifact task failed", map[string]interface{}{"error": taskErr.Error()})
	}

	if cfg.Metrics.Snapshot {
		if err := writeSnapshot(fs, m, root); err != nil {
			log.Warn("Failed to write metrics snapshot", map[string]interface{}{"error": err.Error()})
		}
	}

	if err := printReport(report); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if !report.Success() {
		return fmt.Errorf("%d test(s) failed", report.Failed())
	}
	return nil
}

// discardLeftovers stops and discards recordings still tracked once the
// session is over: interrupted ones and those whose save failed.
func discardLeftovers(mgr *manager.Manager, timeout time.Duration, log *logging.Logger) {
	leftovers := mgr.Tracked()
	if len(leftovers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := mgr.Terminate(ctx); err != nil {
		log.Error("Failed to discard leftover recordings", map[string]interface{}{"error": err.Error(), "count": len(leftovers)})
	}
}

// openLedger opens the configured ledger, creating the SQLite directory if needed
func openLedger(fs afero.Fs) (ledger.Ledger, error) {
	if cfg.Ledger.Type == "sqlite" && cfg.Ledger.Path != "" {
		if err := fs.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	l, err := ledger.New(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, nil
}

func writeSnapshot(fs afero.Fs, m *metrics.Metrics, root string) error {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return err
	}
	f, err := fs.Create(filepath.Join(root, "metrics.prom"))
	if err != nil {
		return err
	}
	if err := m.WriteSnapshot(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printReport(report *session.Report) error {
	if report == nil {
		return errors.New("session produced no report")
	}
	if IsJSONOutput() {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	report.WriteTable(os.Stdout)
	return nil
}
