package engine

import (
	"fmt"
	"strings"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/pkg/audit"
)

// RuleInput is what a synthesis rule sees for one criterion. Opinions are the
// trusted, in-range opinions only, ordered by role.
type RuleInput struct {
	Criterion audit.Criterion
	Opinions  []audit.Opinion
	Evidence  []audit.Evidence // Evidence filed under the criterion
}

// RuleResult is a rule's unrounded score and the name of the rule that fired.
type RuleResult struct {
	Score   float64
	Rule    string
	Ceiling float64 // Upper bound re-applied after rounding; 0 when uncapped
	Notes   []string
}

// Next hands the input to the remainder of the rule chain.
type Next func(RuleInput) RuleResult

// Rule is one step of the ordered synthesis chain. A rule either produces a
// result itself or defers to next. Rules that wrap next's result (the
// security override) can adjust it before returning.
type Rule interface {
	Name() string
	Evaluate(in RuleInput, next Next) RuleResult
}

// DefaultRules returns the standard rule order for the given thresholds.
func DefaultRules(cfg config.SynthesisConfig) []Rule {
	return []Rule{
		SecurityOverride{Ceiling: float64(cfg.SecurityCeiling)},
		EvidenceSupremacy{UnsupportedWeight: derefFloat(cfg.UnsupportedWeight, config.DefaultUnsupportedWeight)},
		RoleWeighting{Class: cfg.WeightedClass, Role: cfg.WeightedRole, Weight: cfg.RoleWeight},
		Default{},
	}
}

// Chain composes rules so that the first rule gets first refusal. If every
// rule defers, the arithmetic mean is used.
func Chain(rules []Rule) Next {
	next := Next(func(in RuleInput) RuleResult {
		return Default{}.Evaluate(in, nil)
	})
	for i := len(rules) - 1; i >= 0; i-- {
		rule, tail := rules[i], next
		next = func(in RuleInput) RuleResult {
			return rule.Evaluate(in, tail)
		}
	}
	return next
}

// SecurityOverride caps a criterion whenever any of its evidence is flagged as
// a security violation. The cap applies to whatever the remaining chain scores,
// so a low score is never raised.
type SecurityOverride struct {
	Ceiling float64
}

func (SecurityOverride) Name() string { return audit.RuleSecurityOverride }

func (r SecurityOverride) Evaluate(in RuleInput, next Next) RuleResult {
	var flagged []string
	for _, e := range in.Evidence {
		if e.HasFlag(audit.FlagSecurityViolation) {
			flagged = append(flagged, e.ID)
		}
	}
	if len(flagged) == 0 {
		return next(in)
	}

	inner := next(in)
	res := RuleResult{
		Score:   inner.Score,
		Rule:    audit.RuleSecurityOverride,
		Ceiling: r.Ceiling,
		Notes:   inner.Notes,
	}
	if res.Score > r.Ceiling {
		res.Score = r.Ceiling
	}
	res.Notes = append(res.Notes, fmt.Sprintf("security override: evidence %s flagged %s; score capped at %s (underlying %s gave %.2f)",
		strings.Join(flagged, ", "), audit.FlagSecurityViolation, formatScore(r.Ceiling), inner.Rule, inner.Score))
	return res
}

// EvidenceSupremacy discounts opinions that cite nothing when others do cite
// evidence. Each uncited score is pulled toward the mean of the cited scores.
type EvidenceSupremacy struct {
	UnsupportedWeight float64 // Share an uncited score keeps after blending
}

func (EvidenceSupremacy) Name() string { return audit.RuleEvidenceSupremacy }

func (r EvidenceSupremacy) Evaluate(in RuleInput, next Next) RuleResult {
	var cited, uncited []audit.Opinion
	for _, o := range in.Opinions {
		if o.Cites() {
			cited = append(cited, o)
		} else {
			uncited = append(uncited, o)
		}
	}
	if len(cited) == 0 || len(uncited) == 0 {
		return next(in)
	}

	citedMean := meanScore(cited)
	scores := make([]float64, 0, len(in.Opinions))
	for _, o := range cited {
		scores = append(scores, float64(o.Score))
	}
	var blendedRoles []string
	for _, o := range uncited {
		blended := r.UnsupportedWeight*float64(o.Score) + (1-r.UnsupportedWeight)*citedMean
		scores = append(scores, blended)
		blendedRoles = append(blendedRoles, fmt.Sprintf("%s %d->%.2f", o.Role, o.Score, blended))
	}

	return RuleResult{
		Score: mean(scores),
		Rule:  audit.RuleEvidenceSupremacy,
		Notes: []string{fmt.Sprintf("evidence supremacy: uncited opinions discounted toward cited mean %.2f (%s)",
			citedMean, strings.Join(blendedRoles, ", "))},
	}
}

// RoleWeighting gives one role extra weight on criteria of one weight class.
type RoleWeighting struct {
	Class  audit.WeightClass
	Role   audit.Role
	Weight float64
}

func (RoleWeighting) Name() string { return audit.RuleRoleWeighting }

func (r RoleWeighting) Evaluate(in RuleInput, next Next) RuleResult {
	if in.Criterion.WeightClass != r.Class {
		return next(in)
	}
	present := false
	for _, o := range in.Opinions {
		if o.Role == r.Role {
			present = true
			break
		}
	}
	if !present {
		return next(in)
	}

	var sum, weights float64
	for _, o := range in.Opinions {
		w := 1.0
		if o.Role == r.Role {
			w = r.Weight
		}
		sum += w * float64(o.Score)
		weights += w
	}
	return RuleResult{
		Score: sum / weights,
		Rule:  audit.RuleRoleWeighting,
		Notes: []string{fmt.Sprintf("role weighting: %s counted x%s on %s criterion", r.Role, formatScore(r.Weight), r.Class)},
	}
}

// Default is the arithmetic mean of all trusted scores.
type Default struct{}

func (Default) Name() string { return audit.RuleDefault }

func (Default) Evaluate(in RuleInput, _ Next) RuleResult {
	return RuleResult{
		Score: meanScore(in.Opinions),
		Rule:  audit.RuleDefault,
		Notes: []string{fmt.Sprintf("default: mean of %d opinions", len(in.Opinions))},
	}
}

func meanScore(opinions []audit.Opinion) float64 {
	scores := make([]float64, len(opinions))
	for i, o := range opinions {
		scores[i] = float64(o.Score)
	}
	return mean(scores)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func derefFloat(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

// formatScore renders 3 as "3" and 2.5 as "2.5".
func formatScore(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
