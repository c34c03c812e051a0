// Package collector implements the evidence-gathering side of a run: target
// preparation and the collectors that evaluate rubric probes against the
// prepared repository and document.
package collector

import (
	"github.com/dyluth/tribunal/internal/rubric"
	"github.com/dyluth/tribunal/pkg/audit"
)

// DefaultCacheBytes is the file cache size used by the CLI and server
const DefaultCacheBytes = 64 << 20

// maxPayload caps the snippet stored on a piece of evidence
const maxPayload = 4000

// Confidence levels attached to evidence.
const (
	confidenceChecked     = 0.85 // Probe evaluated and expectation met
	confidenceUnmet       = 0.5  // Probe evaluated and expectation not met
	confidenceUnreadable  = 0.3  // Input present but could not be inspected
	confidenceUnavailable = 0.2  // Input missing entirely
	confidenceUnsupported = 0.1  // Input format not inspectable
)

func newEvidence(dim rubric.Dimension, source, locator, goal string, found bool, payload string, confidence float64) audit.Evidence {
	return audit.Evidence{
		ID:         audit.NewEvidenceID(dim.ID, source, locator, goal),
		Criterion:  dim.ID,
		Source:     source,
		Locator:    locator,
		Goal:       goal,
		Found:      found,
		Payload:    truncate(payload, maxPayload),
		Confidence: confidence,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n...[truncated]"
}
