package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/psantana5/ffrec/internal/retention"
	"github.com/psantana5/ffrec/pkg/ledger"
)

var (
	// artifacts list flags
	listSession string
	listKind    string
	listOutcome string
	listLimit   int

	// artifacts prune flags
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

// artifactsCmd represents the artifacts command
var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and prune recorded artifacts",
	Long:  `Commands for listing the artifact ledger and removing old recordings.`,
}

// artifactsListCmd represents the artifacts list command
var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries",
	RunE:  runArtifactsList,
}

// artifactsShowCmd represents the artifacts show command
var artifactsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsShow,
}

// artifactsPruneCmd represents the artifacts prune command
var artifactsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete artifacts older than a given age",
	Long: `Delete ledger entries older than --older-than. Saved videos of those
entries are removed from disk along with their directory once it is empty.`,
	RunE: runArtifactsPrune,
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	artifactsCmd.AddCommand(artifactsPruneCmd)

	artifactsListCmd.Flags().StringVar(&listSession, "session", "", "only entries of this session id")
	artifactsListCmd.Flags().StringVar(&listKind, "kind", "", "only entries of this kind (startup, test)")
	artifactsListCmd.Flags().StringVar(&listOutcome, "outcome", "", "only entries with this outcome (saved, discarded, failed)")
	artifactsListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of entries, 0 for all")

	artifactsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "age of entries to delete (default from retention.max_age)")
	artifactsPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be deleted without deleting")
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	l, err := openLedger(afero.NewOsFs())
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.List(cmd.Context(), ledger.Filter{
		SessionID: listSession,
		Kind:      listKind,
		Outcome:   ledger.Outcome(listOutcome),
		Limit:     listLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No artifacts found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Session", "Kind", "Test", "Outcome", "Created", "Path")
	for _, e := range entries {
		path := e.Path
		if e.Outcome == ledger.OutcomeFailed && e.Error != "" {
			path = e.Error
		}
		table.Append([]string{
			shortID(e.ID),
			shortID(e.SessionID),
			e.Kind,
			e.TestName,
			string(e.Outcome),
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			path,
		})
	}
	table.Render()
	return nil
}

func runArtifactsShow(cmd *cobra.Command, args []string) error {
	l, err := openLedger(afero.NewOsFs())
	if err != nil {
		return err
	}
	defer l.Close()

	e, err := l.Get(cmd.Context(), args[0])
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("artifact %s not found", args[0])
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(e)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"ID", e.ID})
	table.Append([]string{"Session", e.SessionID})
	table.Append([]string{"Kind", e.Kind})
	table.Append([]string{"Test", e.TestName})
	table.Append([]string{"Outcome", string(e.Outcome)})
	table.Append([]string{"Path", e.Path})
	if e.Error != "" {
		table.Append([]string{"Error", e.Error})
	}
	table.Append([]string{"Created", e.CreatedAt.Local().Format(time.RFC3339)})
	table.Render()
	return nil
}

func runArtifactsPrune(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	l, err := openLedger(fs)
	if err != nil {
		return err
	}
	defer l.Close()

	policy := cfg.Retention
	if pruneOlderThan > 0 {
		policy.MaxAge = pruneOlderThan
	}
	if policy.MaxAge <= 0 {
		return errors.New("--older-than must be positive")
	}

	pruner := retention.New(policy, l, fs, logger.WithField("component", "retention"))
	result, err := pruner.Prune(cmd.Context(), time.Now(), pruneDryRun)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(result)
	}

	verb := "Deleted"
	if pruneDryRun {
		verb = "Would delete"
	}
	fmt.Printf("%s %d entries and %d files older than %s\n", verb, result.EntriesDeleted, result.FilesRemoved, policy.MaxAge)
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
