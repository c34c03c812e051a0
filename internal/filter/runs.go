// Package filter selects runs from a listing.
package filter

import (
	"path/filepath"

	"github.com/dyluth/tribunal/pkg/audit"
)

// Criteria defines filtering criteria for runs.
// All filters are ANDed together - a run must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64   // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64   // Unix timestamp in milliseconds, 0 = no filter
	TargetGlob       string  // Glob pattern for the target, empty = no filter
	BelowScore       float64 // Keep runs whose aggregate is strictly below, 0 = no filter
	DissentOnly      bool    // Keep runs with at least one dissenting verdict
	DegradedOnly     bool    // Keep runs that recorded failures
}

// Matches returns true if the run matches all filter criteria.
func (c *Criteria) Matches(run audit.RunSummary) bool {
	if c.SinceTimestampMs > 0 && run.FinishedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && run.FinishedAtMs > c.UntilTimestampMs {
		return false
	}

	if c.TargetGlob != "" {
		matched, err := filepath.Match(c.TargetGlob, run.Target)
		if err != nil || !matched {
			return false
		}
	}

	if c.BelowScore > 0 && run.AggregateScore >= c.BelowScore {
		return false
	}
	if c.DissentOnly && run.DissentCount == 0 {
		return false
	}
	if c.DegradedOnly && run.FailureCount == 0 {
		return false
	}
	return true
}

// Apply returns the runs matching c, preserving order.
func (c *Criteria) Apply(runs []audit.RunSummary) []audit.RunSummary {
	var out []audit.RunSummary
	for _, run := range runs {
		if c.Matches(run) {
			out = append(out, run)
		}
	}
	return out
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.TargetGlob != "" ||
		c.BelowScore > 0 ||
		c.DissentOnly ||
		c.DegradedOnly
}
