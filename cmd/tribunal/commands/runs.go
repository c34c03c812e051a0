package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/internal/filter"
	"github.com/dyluth/tribunal/internal/printer"
	"github.com/dyluth/tribunal/internal/report"
	"github.com/dyluth/tribunal/internal/resolver"
	"github.com/dyluth/tribunal/internal/timespec"
	"github.com/dyluth/tribunal/pkg/docket"
)

var (
	runsOutputFormat string
	runsReportFormat string
	runsSince        string
	runsUntil        string
	runsTarget       string
	runsBelow        float64
	runsDissent      bool
	runsDegraded     bool
	runsLimit        int
)

var runsCmd = &cobra.Command{
	Use:   "runs [RUN_ID]",
	Short: "List saved runs or show one report",
	Long: `Inspect saved runs in list or get mode.

List Mode (no RUN_ID):
  Displays runs matching filters, newest first, as a table or JSONL stream.

Get Mode (with RUN_ID):
  Renders the saved report of one run as Markdown or JSON.
  Supports short IDs (e.g., "0f3c9a" instead of the full UUID).

Filters (list mode only):
  --since / --until  - finish time window (duration like 2h or 7d, date, or RFC3339)
  --target           - glob over the target, e.g. "*github.com/acme/*"
  --below            - aggregate score strictly below this value
  --dissent          - only runs where reviewers disagreed
  --degraded         - only runs that recorded failures

Examples:
  # Runs from the last week
  tribunal runs --since=7d

  # Low-scoring runs as JSONL for jq
  tribunal runs --below=3 --output=jsonl | jq -r .run_id

  # Show a report by short ID
  tribunal runs 0f3c9a --format=json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVarP(&runsOutputFormat, "output", "o", "default", "List format: default or jsonl")
	runsCmd.Flags().StringVarP(&runsReportFormat, "format", "f", "md", "Report format in get mode: md or json")
	runsCmd.Flags().StringVar(&runsSince, "since", "", "Show runs finished after time")
	runsCmd.Flags().StringVar(&runsUntil, "until", "", "Show runs finished before time")
	runsCmd.Flags().StringVar(&runsTarget, "target", "", "Filter by target (glob pattern)")
	runsCmd.Flags().Float64Var(&runsBelow, "below", 0, "Only runs whose aggregate score is below this value")
	runsCmd.Flags().BoolVar(&runsDissent, "dissent", false, "Only runs with reviewer dissent")
	runsCmd.Flags().BoolVar(&runsDegraded, "degraded", false, "Only runs with recorded failures")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 0, "Maximum runs to read from history (0 = all)")

	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	client, err := requireDocket(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := pingDocket(ctx, client, cfg); err != nil {
		return err
	}

	if len(args) == 1 {
		return showRun(cmd, client, args[0])
	}
	return listRuns(cmd, client, cfg.Storage.Namespace)
}

func showRun(cmd *cobra.Command, client *docket.Client, shortID string) error {
	ctx := commandContext(cmd)

	render, err := reportRenderer(runsReportFormat)
	if err != nil {
		return err
	}

	runID, err := resolver.ResolveRunID(ctx, client, shortID)
	if err != nil {
		var notFound *resolver.NotFoundError
		var ambiguous *resolver.AmbiguousError
		switch {
		case errors.As(err, &notFound):
			return printer.Error(
				fmt.Sprintf("run with ID '%s' not found", shortID),
				"No saved run matches that ID.",
				[]string{"List saved runs:\n  tribunal runs"},
			)
		case errors.As(err, &ambiguous):
			return printer.Error(
				"ambiguous run ID",
				resolver.FormatAmbiguousError(ambiguous),
				nil,
			)
		default:
			return printer.Error("invalid run ID", err.Error(), nil)
		}
	}

	rep, err := client.GetReport(ctx, runID)
	if err != nil {
		if docket.IsNotFound(err) {
			return printer.Error(fmt.Sprintf("run '%s' not found", runID), "The run was removed after it was resolved.", nil)
		}
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return render(cmd.OutOrStdout(), rep)
}

func listRuns(cmd *cobra.Command, client *docket.Client, namespace string) error {
	ctx := commandContext(cmd)

	if runsOutputFormat != "default" && runsOutputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", runsOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	now := time.Now()
	sinceMs, untilMs, err := timespec.ParseRange(runsSince, runsUntil, now)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), nil)
	}

	criteria := filter.Criteria{
		SinceTimestampMs: sinceMs,
		UntilTimestampMs: untilMs,
		TargetGlob:       runsTarget,
		BelowScore:       runsBelow,
		DissentOnly:      runsDissent,
		DegradedOnly:     runsDegraded,
	}

	runs, err := client.ListRuns(ctx, docket.ListOptions{SinceMs: sinceMs, UntilMs: untilMs, Limit: runsLimit})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if criteria.HasFilters() {
		runs = criteria.Apply(runs)
	}

	if runsOutputFormat == "jsonl" {
		return report.FormatRunsJSONL(cmd.OutOrStdout(), runs)
	}
	report.FormatRunTable(cmd.OutOrStdout(), runs, namespace, now)
	return nil
}
