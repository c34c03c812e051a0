// Package resolver expands short run ID prefixes into full run IDs.
package resolver

import (
	"context"
	"fmt"
	"strings"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// RunLookup is the part of the docket client the resolver needs.
type RunLookup interface {
	RunExists(ctx context.Context, runID string) (bool, error)
	ScanRuns(ctx context.Context, prefix string) ([]string, error)
}

// ResolveRunID resolves a short ID prefix to a full run ID.
//
// A full UUID (36 chars, 4 hyphens) is checked for existence and returned
// as-is. Anything shorter than MinShortIDLength is rejected. Otherwise the
// prefix must match exactly one stored run.
func ResolveRunID(ctx context.Context, runs RunLookup, shortID string) (string, error) {
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		exists, err := runs.RunExists(ctx, shortID)
		if err != nil {
			return "", fmt.Errorf("failed to verify run existence: %w", err)
		}
		if !exists {
			return "", &NotFoundError{ShortID: shortID}
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := runs.ScanRuns(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for run: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no runs matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no runs found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple runs matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d runs", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists the matching run IDs (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous short ID '%s' matches %d runs:\n", err.ShortID, len(err.Matches))

	shown := min(len(err.Matches), 10)
	for _, id := range err.Matches[:shown] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(err.Matches) > shown {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-shown)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the run.")
	return b.String()
}
