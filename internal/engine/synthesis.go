package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/pkg/audit"
)

// ContractViolationError is returned when an opinion cites evidence that is not
// in the evidence store. The opinion is excluded from scoring.
type ContractViolationError struct {
	Criterion string
	Role      audit.Role
	Missing   []string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("opinion %s/%s cites evidence missing from the store: %s",
		e.Criterion, e.Role, strings.Join(e.Missing, ", "))
}

// MalformedOpinionError is returned when an opinion's score is outside [1,5].
// Synthesis for that criterion fails; other criteria are unaffected.
type MalformedOpinionError struct {
	Criterion string
	Role      audit.Role
	Score     int
}

func (e *MalformedOpinionError) Error() string {
	return fmt.Sprintf("opinion %s/%s has score %d outside [%d,%d]",
		e.Criterion, e.Role, e.Score, audit.MinScore, audit.MaxScore)
}

// Synthesizer reconciles the opinions for a criterion into a verdict. It holds
// no per-run state and is safe for concurrent use.
type Synthesizer struct {
	cfg   config.SynthesisConfig
	chain Next
}

// NewSynthesizer creates a synthesizer with the given thresholds. When rules is
// empty the default rule order is used.
func NewSynthesizer(cfg config.SynthesisConfig, rules ...Rule) *Synthesizer {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid synthesis config: %v", err))
	}
	if len(rules) == 0 {
		rules = DefaultRules(cfg)
	}
	return &Synthesizer{cfg: cfg, chain: Chain(rules)}
}

// Synthesize produces exactly one verdict for criterion. Opinions for other
// criteria are ignored. The returned error joins every ContractViolationError
// and MalformedOpinionError encountered; the verdict is valid either way.
func (s *Synthesizer) Synthesize(criterion audit.Criterion, opinions []audit.Opinion, evidence *audit.EvidenceStore) (audit.Verdict, error) {
	v := audit.Verdict{
		Criterion:  criterion,
		RoleScores: make(map[audit.Role]int),
		Status:     audit.VerdictStatusOK,
	}

	var mine []audit.Opinion
	var malformed []error
	for _, o := range opinions {
		if o.Criterion != criterion.ID {
			continue
		}
		mine = append(mine, o)
	}
	sortOpinions(mine)
	for _, o := range mine {
		if o.Score < audit.MinScore || o.Score > audit.MaxScore {
			malformed = append(malformed, &MalformedOpinionError{Criterion: o.Criterion, Role: o.Role, Score: o.Score})
		}
	}

	if len(malformed) > 0 {
		for _, o := range mine {
			v.RoleScores[o.Role] = o.Score
		}
		reasons := make([]string, len(malformed))
		for i, err := range malformed {
			reasons[i] = err.Error()
		}
		v.Status = audit.VerdictStatusFailed
		v.FinalScore = audit.MinScore
		v.FiredRule = audit.RuleNone
		v.Rationale = "synthesis failed: " + strings.Join(reasons, "; ")
		return v, errors.Join(malformed...)
	}

	var trusted []audit.Opinion
	var violations []error
	for _, o := range mine {
		var missing []string
		for _, id := range o.CitedEvidence {
			if !evidence.Has(id) {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			err := &ContractViolationError{Criterion: o.Criterion, Role: o.Role, Missing: missing}
			violations = append(violations, err)
			v.Warnings = append(v.Warnings, "integrity warning: "+err.Error()+"; opinion excluded from scoring")
			continue
		}
		trusted = append(trusted, o)
		v.RoleScores[o.Role] = o.Score
	}
	if len(violations) > 0 {
		v.Status = audit.VerdictStatusContractViolation
	}

	own := evidence.ForCriterion(criterion.ID)
	var notes []string

	if len(trusted) == 0 {
		score := float64(s.cfg.NoEvidenceScore)
		reason := "no evidence and no opinions"
		if len(own) > 0 {
			score = float64(s.cfg.UnreviewedScore)
			reason = fmt.Sprintf("%d evidence items but no usable opinions", len(own))
		}
		if flagged := flaggedIDs(own); len(flagged) > 0 {
			ceiling := float64(s.cfg.SecurityCeiling)
			if score > ceiling {
				score = ceiling
			}
			v.SecurityCapped = true
			reason += fmt.Sprintf("; security-violation evidence %s holds the score at or below %s",
				strings.Join(flagged, ", "), formatScore(ceiling))
		}
		v.FinalScore = s.finalize(score, 0)
		v.FiredRule = audit.RuleNoEvidence
		notes = append(notes, fmt.Sprintf("no_evidence: %s; fallback score %s", reason, formatScore(v.FinalScore)))
	} else {
		res := s.chain(RuleInput{Criterion: criterion, Opinions: trusted, Evidence: own})
		v.FinalScore = s.finalize(res.Score, res.Ceiling)
		v.FiredRule = res.Rule
		v.SecurityCapped = res.Rule == audit.RuleSecurityOverride
		notes = append(notes, res.Notes...)

		if dissent, why := CheckDissent(trusted, derefInt(s.cfg.DissentThreshold, config.DefaultDissentThreshold)); dissent {
			v.Dissent = true
			notes = append(notes, why)
		}
	}

	notes = append(notes, v.Warnings...)
	v.Rationale = strings.Join(notes, "; ")
	return v, errors.Join(violations...)
}

// finalize rounds to the configured score unit, re-applies any ceiling, and
// clamps to [1,5].
func (s *Synthesizer) finalize(score, ceiling float64) float64 {
	unit := s.cfg.ScoreUnit
	if unit <= 0 {
		unit = config.DefaultScoreUnit
	}
	rounded := math.Round(score/unit) * unit
	rounded = math.Round(rounded*100) / 100
	if ceiling > 0 && rounded > ceiling {
		rounded = ceiling
	}
	return math.Max(audit.MinScore, math.Min(audit.MaxScore, rounded))
}

// sortOpinions puts opinions in canonical role order so that rationales do not
// depend on the order the caller collected them in.
func sortOpinions(opinions []audit.Opinion) {
	rank := func(r audit.Role) int {
		for i, role := range audit.Roles {
			if role == r {
				return i
			}
		}
		return len(audit.Roles)
	}
	sort.SliceStable(opinions, func(i, j int) bool {
		a, b := opinions[i], opinions[j]
		if ra, rb := rank(a.Role), rank(b.Role); ra != rb {
			return ra < rb
		}
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if ca, cb := strings.Join(a.CitedEvidence, ","), strings.Join(b.CitedEvidence, ","); ca != cb {
			return ca < cb
		}
		return a.Rationale < b.Rationale
	})
}

func flaggedIDs(evidence []audit.Evidence) []string {
	var out []string
	for _, e := range evidence {
		if e.HasFlag(audit.FlagSecurityViolation) {
			out = append(out, e.ID)
		}
	}
	return out
}

func derefInt(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

// unwrapAll flattens an errors.Join result into its parts.
func unwrapAll(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
