// Package reviewer provides the reviewers that score rubric criteria from the
// collected evidence: deterministic built-in stances, and external commands
// speaking JSON over stdin/stdout.
package reviewer

import (
	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/internal/engine"
	"github.com/dyluth/tribunal/pkg/audit"
)

// FromConfig returns one reviewer per role: the configured external command
// when present, the built-in stance otherwise.
func FromConfig(cfg *config.TribunalConfig) []engine.Reviewer {
	out := make([]engine.Reviewer, 0, len(audit.Roles))
	for _, role := range audit.Roles {
		if spec, ok := cfg.Reviewers[string(role)]; ok {
			out = append(out, NewCommandReviewer(role, spec))
			continue
		}
		out = append(out, NewStanceReviewer(role))
	}
	return out
}
