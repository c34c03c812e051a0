package collector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/dyluth/tribunal/internal/git"
	"github.com/dyluth/tribunal/internal/rubric"
	"github.com/dyluth/tribunal/pkg/audit"
)

// RepoInvestigatorName is the evidence source of the repository collector
const RepoInvestigatorName = "repo_investigator"

// maxHits bounds the matched lines quoted per pattern probe
const maxHits = 20

// RepoInvestigator evaluates the rubric's repository probes against the
// prepared checkout.
type RepoInvestigator struct {
	Rubric *rubric.Rubric
	Git    *git.Checker
	Files  *FileCache
}

// NewRepoInvestigator creates a repository collector. files may be nil.
func NewRepoInvestigator(r *rubric.Rubric, files *FileCache) *RepoInvestigator {
	return &RepoInvestigator{Rubric: r, Git: git.NewChecker(), Files: files}
}

// Name implements engine.Collector.
func (c *RepoInvestigator) Name() string { return RepoInvestigatorName }

// Collect implements engine.Collector.
func (c *RepoInvestigator) Collect(ctx context.Context, state audit.RunState) ([]audit.Evidence, error) {
	dims := c.Rubric.ForArtifact(rubric.TargetRepository)
	root := state.Workspace.RepoDir

	if root == "" {
		locator := state.Target.RepoURL
		if locator == "" {
			locator = "repo_url"
		}
		out := make([]audit.Evidence, 0, len(dims))
		for _, dim := range dims {
			out = append(out, newEvidence(dim, RepoInvestigatorName, locator, "Repository availability", false,
				"No repository was available for inspection; repository probes could not run.", confidenceUnavailable))
		}
		return out, nil
	}

	var out []audit.Evidence
	for _, dim := range dims {
		for i := range dim.Probes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			probe := &dim.Probes[i]
			var e audit.Evidence
			switch probe.Kind {
			case rubric.ProbeFileExists:
				e = c.fileExists(dim, probe, root)
			case rubric.ProbePattern:
				e = c.pattern(dim, probe, root)
			case rubric.ProbeGitLog:
				e = c.gitLog(ctx, dim, probe, root)
			default:
				continue
			}
			out = append(out, e)
		}
	}

	log.Printf("[Collector] %s produced %d evidence items from %s", RepoInvestigatorName, len(out), root)
	return out, nil
}

func (c *RepoInvestigator) fileExists(dim rubric.Dimension, probe *rubric.Probe, root string) audit.Evidence {
	matches, err := Glob(root, probe.Path)
	if err != nil {
		return newEvidence(dim, RepoInvestigatorName, probe.Path, probe.Goal, false,
			fmt.Sprintf("failed to walk repository: %v", err), confidenceUnreadable)
	}

	present := len(matches) > 0
	payload := "no files match " + probe.Path
	if present {
		payload = "matched: " + strings.Join(matches, ", ")
	}
	return c.judge(dim, probe, probe.Path, present, payload)
}

func (c *RepoInvestigator) pattern(dim rubric.Dimension, probe *rubric.Probe, root string) audit.Evidence {
	matches, err := Glob(root, probe.Path)
	if err != nil {
		return newEvidence(dim, RepoInvestigatorName, probe.Path, probe.Goal, false,
			fmt.Sprintf("failed to walk repository: %v", err), confidenceUnreadable)
	}
	if len(matches) == 0 {
		e := c.judge(dim, probe, probe.Path, false, fmt.Sprintf("no files match %s; pattern %q not searched", probe.Path, probe.Pattern))
		e.Confidence = confidenceUnreadable
		return e
	}

	var hits []string
	var unreadable []string
	for _, rel := range matches {
		data, err := c.Files.Read(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			unreadable = append(unreadable, rel)
			continue
		}
		hits = append(hits, grep(probe, rel, data)...)
	}

	var payload strings.Builder
	fmt.Fprintf(&payload, "pattern %q over %d files matching %s: %d matching lines", probe.Pattern, len(matches), probe.Path, len(hits))
	for i, h := range hits {
		if i == maxHits {
			fmt.Fprintf(&payload, "\n... %d more", len(hits)-maxHits)
			break
		}
		payload.WriteString("\n" + h)
	}
	if len(unreadable) > 0 {
		payload.WriteString("\nunreadable: " + strings.Join(unreadable, ", "))
	}

	return c.judge(dim, probe, probe.Path, len(hits) > 0, payload.String())
}

func grep(probe *rubric.Probe, rel string, data []byte) []string {
	var hits []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), maxScanBytes)
	line := 0
	for scanner.Scan() {
		line++
		if probe.Regexp().Match(scanner.Bytes()) {
			hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, line, strings.TrimSpace(scanner.Text())))
		}
	}
	return hits
}

func (c *RepoInvestigator) gitLog(ctx context.Context, dim rubric.Dimension, probe *rubric.Probe, root string) audit.Evidence {
	commits, err := c.Git.Log(ctx, root)
	if err != nil {
		return newEvidence(dim, RepoInvestigatorName, "git log", probe.Goal, false, err.Error(), confidenceUnreadable)
	}

	var payload strings.Builder
	fmt.Fprintf(&payload, "%d commits (minimum %d)", len(commits), probe.MinCommits)
	for _, commit := range commits {
		fmt.Fprintf(&payload, "\n%s %s %s", commit.Hash, commit.Date, commit.Subject)
	}
	return c.judge(dim, probe, "git log", len(commits) >= probe.MinCommits, payload.String())
}

// judge turns a raw observation into evidence, applying the probe's
// expectation and flag.
func (c *RepoInvestigator) judge(dim rubric.Dimension, probe *rubric.Probe, locator string, present bool, payload string) audit.Evidence {
	violated := probe.Violated(present)
	confidence := confidenceChecked
	if violated {
		confidence = confidenceUnmet
	}
	e := newEvidence(dim, RepoInvestigatorName, locator, probe.Goal, !violated, payload, confidence)
	if violated && probe.Flag != "" {
		e.Flags = []audit.Flag{probe.Flag}
	}
	return e
}
