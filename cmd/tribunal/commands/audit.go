package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/tribunal/internal/printer"
	"github.com/dyluth/tribunal/internal/report"
	"github.com/dyluth/tribunal/pkg/audit"
	"github.com/dyluth/tribunal/pkg/docket"
)

var (
	auditRepoURL    string
	auditDocPath    string
	auditRubricPath string
	auditOutputPath string
	auditFormat     string
	auditSave       bool
	auditFailUnder  float64
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit a repository and its report against the rubric",
	Long: `Run a full audit: prepare the target, collect evidence, run the three
reviewers, and synthesize one verdict per rubric criterion.

The report is written to stdout (or --output) as Markdown or JSON. Progress
and a one-line-per-criterion summary go to stderr, so stdout can be piped.

Collector, reviewer and synthesis failures never abort the run: they are
listed in the report's Failures section and the run is marked degraded.

Examples:
  # Audit a local checkout and its report
  tribunal audit --repo-url ./agent --doc-path ./agent/report.md

  # Audit a remote repository, save the run and write JSON
  tribunal audit --repo-url https://github.com/acme/agent.git --doc-path report.md \
    --format json --output audit.json --save

  # Fail a CI job when the aggregate drops below 3
  tribunal audit --repo-url . --doc-path REPORT.md --fail-under 3`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditRepoURL, "repo-url", "", "Repository to audit (local directory or git URL)")
	auditCmd.Flags().StringVar(&auditDocPath, "doc-path", "", "Accompanying report document (Markdown or text)")
	auditCmd.Flags().StringVar(&auditRubricPath, "rubric", "", "Rubric file (YAML or JSON); overrides the configured rubric")
	auditCmd.Flags().StringVarP(&auditOutputPath, "output", "o", "", "Write the report to this file instead of stdout")
	auditCmd.Flags().StringVarP(&auditFormat, "format", "f", "md", "Report format: md or json")
	auditCmd.Flags().BoolVar(&auditSave, "save", false, "Save the run to Redis (storage.redis_url or TRIBUNAL_REDIS_URL)")
	auditCmd.Flags().Float64Var(&auditFailUnder, "fail-under", 0, "Exit non-zero when the aggregate score is below this value")

	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.ErrOrStderr(), cmd.ErrOrStderr())

	render, err := reportRenderer(auditFormat)
	if err != nil {
		return err
	}

	target := audit.Target{RepoURL: auditRepoURL, DocPath: auditDocPath}
	if err := target.Validate(); err != nil {
		return printer.Error(
			"nothing to audit",
			"Neither a repository nor a document was given.",
			[]string{"Pass --repo-url, --doc-path, or both:\n  tribunal audit --repo-url ./agent --doc-path ./agent/report.md"},
		)
	}

	sys, err := newAuditSystem(configPath, auditRubricPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	// Fail fast on storage problems before spending time on the audit.
	var store *docket.Client
	if auditSave {
		client, err := requireDocket(sys.cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		store = client
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Step("Auditing %s against %d criteria\n", target, len(sys.engine.Criteria()))
	rep, err := sys.engine.Run(ctx, target)
	if err != nil {
		return printer.Error("audit failed", err.Error(), nil)
	}

	for _, v := range rep.Verdicts {
		p.Verdict(v)
	}
	p.Info("\nAggregate: %s / %d\n", printer.Score(rep.AggregateScore), audit.MaxScore)
	if rep.OverrideNote != "" {
		p.Warning("%s\n", rep.OverrideNote)
	}
	if rep.Degraded() {
		p.Warning("Run degraded: %d failures recorded (see report)\n", len(rep.Failures))
	}

	if err := writeReport(cmd.OutOrStdout(), auditOutputPath, rep, render); err != nil {
		return err
	}
	if auditOutputPath != "" {
		p.Success("Report written to %s\n", auditOutputPath)
	}

	if store != nil {
		if err := store.SaveReport(ctx, rep); err != nil {
			return printer.ErrorWithContext(
				"failed to save run",
				err.Error(),
				map[string]string{"Run": rep.RunID},
				[]string{"Check that Redis is reachable, then re-run the audit with --save."},
			)
		}
		p.Success("Saved run %s\n", rep.RunID)
	}

	if auditFailUnder > 0 && rep.AggregateScore < auditFailUnder {
		return printer.Error(
			"aggregate score below threshold",
			fmt.Sprintf("Aggregate %.2f is below --fail-under %.2f.", rep.AggregateScore, auditFailUnder),
			nil,
		)
	}
	return nil
}

// commandContext returns the command's context, or Background when run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

type renderFunc func(io.Writer, *audit.Report) error

func reportRenderer(format string) (renderFunc, error) {
	switch format {
	case "md", "markdown":
		return report.Markdown, nil
	case "json":
		return report.JSON, nil
	default:
		return nil, printer.Error(
			"invalid report format",
			fmt.Sprintf("Unknown format: %s", format),
			[]string{"Valid formats: md, json"},
		)
	}
}

// writeReport renders to path, or to stdout when path is empty.
func writeReport(stdout io.Writer, path string, rep *audit.Report, render renderFunc) error {
	if path == "" {
		return render(stdout, rep)
	}

	f, err := os.Create(path)
	if err != nil {
		return printer.Error("cannot write report", err.Error(), nil)
	}
	if err := render(f, rep); err != nil {
		f.Close()
		return fmt.Errorf("failed to render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
