package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/tribunal/pkg/audit"
)

// FormatRunTable writes run summaries as a table.
// Returns the number of runs formatted.
func FormatRunTable(w io.Writer, runs []audit.RunSummary, namespace string, now time.Time) int {
	if len(runs) == 0 {
		fmt.Fprintf(w, "No runs found in namespace '%s'\n", namespace)
		return 0
	}

	fmt.Fprintf(w, "Runs in namespace '%s':\n\n", namespace)

	fmt.Fprintf(w, "%-10s %-6s %-5s %-7s %-8s %-8s %s\n",
		"ID", "SCORE", "CRIT", "DISSENT", "FAILURES", "AGE", "TARGET")
	fmt.Fprintf(w, "%-10s %-6s %-5s %-7s %-8s %-8s %s\n",
		"----------", "------", "-----", "-------", "--------", "--------", "----------------------------------------")

	for _, r := range runs {
		score := fmt.Sprintf("%.2f", r.AggregateScore)
		if r.Capped {
			score += "*"
		}
		fmt.Fprintf(w, "%-10s %-6s %-5d %-7s %-8s %-8s %s\n",
			formatID(r.RunID),
			score,
			r.Criteria,
			formatCount(r.DissentCount),
			formatCount(r.FailureCount),
			formatAge(r.FinishedAtMs, now),
			formatTarget(r.Target),
		)
	}

	countMsg := "run"
	if len(runs) != 1 {
		countMsg = "runs"
	}
	fmt.Fprintf(w, "\n%d %s found (* = security-capped)\n", len(runs), countMsg)

	return len(runs)
}

// FormatRunsJSONL writes run summaries as line-delimited JSON, ready for jq.
func FormatRunsJSONL(w io.Writer, runs []audit.RunSummary) error {
	for _, r := range runs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal run to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// formatID truncates a run ID to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatCount(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

// formatTarget truncates long targets to 60 characters.
func formatTarget(target string) string {
	if target == "" {
		return "-"
	}
	if len(target) > 60 {
		return target[:57] + "..."
	}
	return target
}

// formatAge renders a millisecond timestamp relative to now, like "2m ago".
func formatAge(timestampMs int64, now time.Time) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

// FormatRunLine writes a single-line summary of a finished run, as used by
// live streams.
func FormatRunLine(w io.Writer, run audit.RunSummary) error {
	capped := ""
	if run.Capped {
		capped = "*"
	}
	_, err := fmt.Fprintf(w, "[%s] %s  score %.2f%s  criteria %d  dissent %s  failures %s  %s\n",
		time.UnixMilli(run.FinishedAtMs).Format("15:04:05"),
		formatID(run.RunID),
		run.AggregateScore,
		capped,
		run.Criteria,
		formatCount(run.DissentCount),
		formatCount(run.FailureCount),
		formatTarget(run.Target),
	)
	return err
}
