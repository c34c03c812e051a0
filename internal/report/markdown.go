// Package report renders audit reports and run listings for people and tools.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/tribunal/pkg/audit"
)

// RemediationThreshold is the highest final score that earns a remediation entry.
const RemediationThreshold = 2

// Markdown writes the report as a Markdown document.
func Markdown(w io.Writer, r *audit.Report) error {
	bw := bufio.NewWriter(w)
	md := &mdWriter{w: bw}

	md.line("# Audit Report")
	md.line("")
	md.line("- **Run:** `%s`", r.RunID)
	md.line("- **Target:** %s", r.Target)
	md.line("- **Started:** %s", r.StartedAt.UTC().Format(time.RFC3339))
	md.line("- **Finished:** %s (%s)", r.FinishedAt.UTC().Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	md.line("- **Route:** %s", r.Route)
	md.line("")

	writeSummary(md, r)
	writeBreakdown(md, r)
	writeDissent(md, r)
	writeFailures(md, r)
	writeRemediation(md, r)

	if md.err != nil {
		return fmt.Errorf("failed to write markdown report: %w", md.err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}
	return nil
}

// JSON writes the report as pretty-printed JSON.
func JSON(w io.Writer, r *audit.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

type mdWriter struct {
	w   io.Writer
	err error
}

func (m *mdWriter) line(format string, a ...any) {
	if m.err != nil {
		return
	}
	_, m.err = fmt.Fprintf(m.w, format+"\n", a...)
}

func writeSummary(md *mdWriter, r *audit.Report) {
	md.line("## Executive Summary")
	md.line("")

	scored := 0
	for _, v := range r.Verdicts {
		if !v.Failed() {
			scored++
		}
	}
	md.line("Aggregate score: **%.2f / %d** across %d of %d criteria.", r.AggregateScore, audit.MaxScore, scored, len(r.Verdicts))

	if r.OverrideNote != "" {
		md.line("")
		md.line("> **Security override:** %s", r.OverrideNote)
	}

	dissent := r.Summary().DissentCount
	if dissent > 0 {
		md.line("")
		md.line("Reviewers disagreed materially on %d %s.", dissent, plural(dissent, "criterion", "criteria"))
	}
	if r.Degraded() {
		md.line("")
		md.line("This run is degraded: %d %s recorded (see Failures).", len(r.Failures), plural(len(r.Failures), "failure was", "failures were"))
	}
	md.line("")
}

func writeBreakdown(md *mdWriter, r *audit.Report) {
	md.line("## Criterion Breakdown")
	md.line("")
	md.line("| Criterion | Score | Rule | Prosecutor | Defense | TechLead | Status |")
	md.line("|---|---|---|---|---|---|---|")
	for _, v := range r.Verdicts {
		row := []string{
			fmt.Sprintf("%s (`%s`)", v.Criterion.Name, v.Criterion.ID),
			fmt.Sprintf("%.2f", v.FinalScore),
			v.FiredRule,
		}
		for _, role := range audit.Roles {
			if score, ok := v.RoleScores[role]; ok {
				row = append(row, fmt.Sprintf("%d", score))
			} else {
				row = append(row, "-")
			}
		}
		row = append(row, statusLabel(v))
		md.line("| %s |", strings.Join(row, " | "))
	}
	md.line("")

	opinions := indexOpinions(r.Opinions)
	for _, v := range r.Verdicts {
		md.line("### %s", v.Criterion.Name)
		md.line("")
		md.line("**%.2f** via `%s`. %s", v.FinalScore, v.FiredRule, escape(v.Rationale))
		md.line("")
		for _, role := range audit.Roles {
			o, ok := opinions[audit.OpinionKey{Criterion: v.Criterion.ID, Role: role}]
			if !ok {
				continue
			}
			md.line("- **%s** (%d, %d cited): %s", role, o.Score, len(o.CitedEvidence), escape(o.Rationale))
		}
		for _, warning := range v.Warnings {
			md.line("- :warning: %s", escape(warning))
		}
		md.line("")
	}
}

func writeDissent(md *mdWriter, r *audit.Report) {
	var lines []string
	for _, v := range r.Verdicts {
		if !v.Dissent {
			continue
		}
		why := "reviewers disagreed"
		for _, note := range strings.Split(v.Rationale, "; ") {
			if strings.HasPrefix(note, "dissent:") {
				why = strings.TrimSpace(strings.TrimPrefix(note, "dissent:"))
			}
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", v.Criterion.Name, escape(why)))
	}
	if len(lines) == 0 {
		return
	}
	md.line("## Dissent")
	md.line("")
	for _, l := range lines {
		md.line("%s", l)
	}
	md.line("")
}

func writeFailures(md *mdWriter, r *audit.Report) {
	if len(r.Failures) == 0 {
		return
	}
	md.line("## Failures")
	md.line("")
	md.line("| Kind | Stage | Task | Criterion | Reason |")
	md.line("|---|---|---|---|---|")
	for _, f := range r.Failures {
		md.line("| %s | %s | %s | %s | %s |", f.Kind, dash(f.Stage), dash(f.Task), dash(f.Criterion), escape(f.Reason))
	}
	md.line("")
}

func writeRemediation(md *mdWriter, r *audit.Report) {
	md.line("## Remediation Plan")
	md.line("")

	listed := false
	for _, v := range r.Verdicts {
		if v.FinalScore > RemediationThreshold && !v.Failed() {
			continue
		}
		listed = true
		md.line("### %s (%.2f)", v.Criterion.Name, v.FinalScore)
		md.line("")

		items := 0
		for _, e := range r.Evidence {
			if e.Criterion != v.Criterion.ID {
				continue
			}
			switch {
			case e.HasFlag(audit.FlagSecurityViolation):
				md.line("- [ ] Remove the security violation: %s at `%s`", escape(e.Goal), e.Locator)
			case !e.Found:
				md.line("- [ ] %s (`%s`)", escape(e.Goal), e.Locator)
			default:
				continue
			}
			items++
		}
		if items == 0 {
			md.line("- [ ] No unmet check was recorded; strengthen the evidence for this criterion so reviewers can score it.")
		}
		md.line("")
	}
	if !listed {
		md.line("No criterion scored %d or below.", RemediationThreshold)
		md.line("")
	}
}

func indexOpinions(opinions []audit.Opinion) map[audit.OpinionKey]audit.Opinion {
	out := make(map[audit.OpinionKey]audit.Opinion, len(opinions))
	for _, o := range opinions {
		out[o.Key()] = o
	}
	return out
}

func statusLabel(v audit.Verdict) string {
	var parts []string
	parts = append(parts, string(v.Status))
	if v.SecurityCapped {
		parts = append(parts, "capped")
	}
	if v.Dissent {
		parts = append(parts, "dissent")
	}
	return strings.Join(parts, ", ")
}

// escape keeps free text from breaking table rows and line structure.
func escape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
