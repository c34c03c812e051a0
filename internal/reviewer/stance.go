package reviewer

import (
	"context"
	"fmt"
	"math"

	"github.com/dyluth/tribunal/pkg/audit"
)

// StanceReviewer scores every criterion that has evidence using a fixed,
// deterministic reading of that evidence for its role:
//
//   - Prosecutor looks for gaps: every unmet check pulls the score down and any
//     security violation sinks it. It cites the evidence it objects to.
//   - Defense credits effort: scores start at 2 and it cites only what was found,
//     staying silent on citations when nothing was.
//   - TechLead weighs the evidence by confidence and cites all of it.
type StanceReviewer struct {
	Role audit.Role
}

// NewStanceReviewer creates the built-in reviewer for role.
func NewStanceReviewer(role audit.Role) *StanceReviewer {
	return &StanceReviewer{Role: role}
}

// Name implements engine.Reviewer.
func (r *StanceReviewer) Name() string { return string(r.Role) }

// Review implements engine.Reviewer.
func (r *StanceReviewer) Review(ctx context.Context, state audit.RunState) ([]audit.Opinion, error) {
	if err := r.Role.Validate(); err != nil {
		return nil, err
	}

	var out []audit.Opinion
	for _, c := range state.Criteria {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evidence := state.Evidence().ForCriterion(c.ID)
		if len(evidence) == 0 {
			continue
		}
		out = append(out, r.score(c, evidence))
	}
	return out, nil
}

type tally struct {
	found, missing, flagged []string
	ratio                   float64 // confidence-weighted share of checks that held
}

func count(evidence []audit.Evidence) tally {
	var t tally
	var held, total float64
	for _, e := range evidence {
		w := e.Confidence
		if w == 0 {
			w = 0.1
		}
		total += w
		if e.Found {
			held += w
			t.found = append(t.found, e.ID)
		} else {
			t.missing = append(t.missing, e.ID)
		}
		if e.HasFlag(audit.FlagSecurityViolation) {
			t.flagged = append(t.flagged, e.ID)
		}
	}
	if total > 0 {
		t.ratio = held / total
	}
	return t
}

func (r *StanceReviewer) score(c audit.Criterion, evidence []audit.Evidence) audit.Opinion {
	t := count(evidence)
	o := audit.Opinion{Criterion: c.ID, Role: r.Role}

	switch r.Role {
	case audit.RoleProsecutor:
		o.Score = clamp(int(math.Floor(1 + 4*t.ratio*t.ratio)))
		if len(t.missing) > 0 && o.Score > 3 {
			o.Score = 3
		}
		if len(t.flagged) > 0 {
			o.Score = audit.MinScore
		}
		o.CitedEvidence = t.missing
		if len(o.CitedEvidence) == 0 {
			o.CitedEvidence = t.found
		}
		o.Rationale = fmt.Sprintf("%d of %d checks unmet, %d security violations; held to the strictest reading",
			len(t.missing), len(evidence), len(t.flagged))

	case audit.RoleDefense:
		o.Score = clamp(2 + int(math.Round(3*t.ratio)))
		if len(t.flagged) > 0 {
			o.Score = clamp(o.Score - 1)
		}
		o.CitedEvidence = t.found
		o.Rationale = fmt.Sprintf("%d of %d checks hold; effort credited where the intent is visible",
			len(t.found), len(evidence))

	case audit.RoleTechLead:
		o.Score = clamp(1 + int(math.Round(4*t.ratio)))
		if len(t.flagged) > 0 && o.Score > 2 {
			o.Score = 2
		}
		o.CitedEvidence = append(append([]string(nil), t.found...), t.missing...)
		o.Rationale = fmt.Sprintf("confidence-weighted %.0f%% of checks hold across %d observations",
			100*t.ratio, len(evidence))

	default:
		panic(fmt.Sprintf("stance reviewer has no stance for role %q", r.Role))
	}
	return o
}

func clamp(score int) int {
	return max(audit.MinScore, min(audit.MaxScore, score))
}
