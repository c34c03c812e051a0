package collector

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dyluth/tribunal/internal/rubric"
	"github.com/dyluth/tribunal/pkg/audit"
)

// DocAnalystName is the evidence source of the document collector
const DocAnalystName = "doc_analyst"

// contextRadius is how much text around a keyword mention is quoted
const contextRadius = 80

// pathClaim matches file paths mentioned in prose, e.g. src/state.py or ./cmd/main.go
var pathClaim = regexp.MustCompile(`(?:\./)?(?:[A-Za-z0-9_.\-]+/)+[A-Za-z0-9_.\-]+\.[A-Za-z0-9]{1,5}\b`)

// DocAnalyst evaluates the rubric's document probes against the report that
// accompanies the repository.
type DocAnalyst struct {
	Rubric *rubric.Rubric
	Files  *FileCache
}

// NewDocAnalyst creates a document collector. files may be nil.
func NewDocAnalyst(r *rubric.Rubric, files *FileCache) *DocAnalyst {
	return &DocAnalyst{Rubric: r, Files: files}
}

// Name implements engine.Collector.
func (c *DocAnalyst) Name() string { return DocAnalystName }

// Collect implements engine.Collector.
func (c *DocAnalyst) Collect(ctx context.Context, state audit.RunState) ([]audit.Evidence, error) {
	dims := c.Rubric.ForArtifact(rubric.TargetDocument)
	docPath := state.Workspace.DocPath
	locator := docPath
	if locator == "" {
		locator = state.Target.DocPath
	}
	if locator == "" {
		locator = "doc_path"
	}

	fallback := func(goal, payload string, confidence float64) []audit.Evidence {
		out := make([]audit.Evidence, 0, len(dims))
		for _, dim := range dims {
			out = append(out, newEvidence(dim, DocAnalystName, locator, goal, false, payload, confidence))
		}
		return out
	}

	if docPath == "" {
		return fallback("Document availability",
			"Document path missing or the file does not exist; document probes could not run.", confidenceUnavailable), nil
	}
	if strings.EqualFold(filepath.Ext(docPath), ".pdf") {
		return fallback("Document readability",
			"PDF text extraction is not supported; supply a text or Markdown rendering of the report.", confidenceUnsupported), nil
	}

	data, err := c.Files.Read(docPath)
	if err != nil {
		return fallback("Document readability", fmt.Sprintf("failed to read document: %v", err), confidenceUnreadable), nil
	}
	text := string(data)

	var out []audit.Evidence
	for _, dim := range dims {
		for i := range dim.Probes {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			probe := &dim.Probes[i]
			switch probe.Kind {
			case rubric.ProbeKeyword:
				out = append(out, keywords(dim, probe, docPath, text)...)
			case rubric.ProbePathClaims:
				out = append(out, pathClaims(dim, probe, docPath, text, state.Workspace.RepoDir))
			}
		}
	}

	log.Printf("[Collector] %s produced %d evidence items from %s", DocAnalystName, len(out), docPath)
	return out, nil
}

// keywords yields one evidence item per term so reviewers can cite each mention.
func keywords(dim rubric.Dimension, probe *rubric.Probe, docPath, text string) []audit.Evidence {
	lower := strings.ToLower(text)
	out := make([]audit.Evidence, 0, len(probe.Terms))
	for _, term := range probe.Terms {
		goal := probe.Goal + ": " + term
		locator := docPath + "#" + term
		idx := strings.Index(lower, strings.ToLower(term))
		if idx < 0 {
			out = append(out, newEvidence(dim, DocAnalystName, locator, goal, false,
				fmt.Sprintf("%q is never mentioned", term), confidenceUnmet))
			continue
		}
		count := strings.Count(lower, strings.ToLower(term))
		start := max(0, idx-contextRadius)
		end := min(len(text), idx+len(term)+contextRadius)
		snippet := strings.Join(strings.Fields(text[start:end]), " ")
		out = append(out, newEvidence(dim, DocAnalystName, locator, goal, true,
			fmt.Sprintf("%d mentions; first: ...%s...", count, snippet), confidenceChecked))
	}
	return out
}

// pathClaims checks that every file path the document mentions exists in the repository.
func pathClaims(dim rubric.Dimension, probe *rubric.Probe, docPath, text, repoDir string) audit.Evidence {
	claims := extractPaths(text)
	if repoDir == "" {
		return newEvidence(dim, DocAnalystName, docPath, probe.Goal, false,
			fmt.Sprintf("%d paths claimed but no repository was available to verify them", len(claims)), confidenceUnavailable)
	}
	if len(claims) == 0 {
		return newEvidence(dim, DocAnalystName, docPath, probe.Goal, false,
			"the document does not reference any repository file paths", confidenceUnmet)
	}

	var verified, missing []string
	for _, claim := range claims {
		if _, err := os.Stat(filepath.Join(repoDir, filepath.FromSlash(claim))); err == nil {
			verified = append(verified, claim)
		} else {
			missing = append(missing, claim)
		}
	}

	payload := fmt.Sprintf("%d of %d claimed paths verified", len(verified), len(claims))
	if len(verified) > 0 {
		payload += "\nverified: " + strings.Join(verified, ", ")
	}
	if len(missing) > 0 {
		payload += "\nnot in repository: " + strings.Join(missing, ", ")
	}

	found := len(missing) == 0
	confidence := confidenceChecked
	if !found {
		confidence = confidenceUnmet
	}
	return newEvidence(dim, DocAnalystName, docPath, probe.Goal, found, payload, confidence)
}

func extractPaths(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, loc := range pathClaim.FindAllStringIndex(text, -1) {
		if loc[0] > 0 && strings.ContainsRune("/:@", rune(text[loc[0]-1])) {
			continue // part of a URL
		}
		p := strings.TrimPrefix(text[loc[0]:loc[1]], "./")
		first := strings.SplitN(p, "/", 2)[0]
		if strings.LastIndexByte(first, '.') > 0 {
			continue // host name such as github.com/...
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
