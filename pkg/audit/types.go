package audit

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Score bounds for opinions and verdicts.
const (
	MinScore = 1
	MaxScore = 5
)

// evidenceNamespace seeds the name-based UUIDs used for evidence IDs, so that a
// collector re-run against the same target yields the same IDs.
var evidenceNamespace = uuid.MustParse("6f1c1a52-3b0e-4f55-9a8e-3d2b8c1f7e10")

// WeightClass tags a criterion with how its verdict is weighted during synthesis.
type WeightClass string

const (
	// WeightClassStandard is the default class: every role counts equally
	WeightClassStandard WeightClass = "standard"

	// WeightClassArchitecture marks structure/architecture criteria where one role is weighted up
	WeightClassArchitecture WeightClass = "architecture"

	// WeightClassSecuritySensitive marks criteria where security evidence is expected
	WeightClassSecuritySensitive WeightClass = "security-sensitive"
)

// Validate checks if the WeightClass is a valid enum value.
func (w WeightClass) Validate() error {
	switch w {
	case WeightClassStandard, WeightClassArchitecture, WeightClassSecuritySensitive:
		return nil
	default:
		return fmt.Errorf("unknown weight class: %q", w)
	}
}

// Criterion is one rubric dimension being scored. Criteria are loaded from the
// rubric before a run starts and are read-only for the duration of the run.
type Criterion struct {
	ID          string      `json:"id"`           // Stable identifier, e.g. "safe_tooling"
	Name        string      `json:"name"`         // Human label
	WeightClass WeightClass `json:"weight_class"` // Synthesis weighting tag
}

// Validate checks if the Criterion has valid field values.
func (c Criterion) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("criterion ID cannot be empty")
	}
	if err := c.WeightClass.Validate(); err != nil {
		return fmt.Errorf("criterion %s: %w", c.ID, err)
	}
	return nil
}

// Flag tags a piece of evidence with a property the synthesis rules react to.
type Flag string

const (
	// FlagSecurityViolation caps the verdict of the criterion the evidence belongs to
	FlagSecurityViolation Flag = "security-violation"
)

// Evidence is a single, objective observation produced by a collector.
// Evidence is immutable once created and owned by the EvidenceStore.
type Evidence struct {
	ID         string  `json:"id"`                // Unique within a run
	Criterion  string  `json:"criterion"`         // Criterion ID this evidence supports
	Source     string  `json:"source"`            // Collector name
	Locator    string  `json:"locator"`           // File path, commit, document offset
	Goal       string  `json:"goal"`              // What the collector was trying to verify
	Found      bool    `json:"found"`             // Whether the checked condition holds
	Payload    string  `json:"payload,omitempty"` // Snippet or structured summary
	Confidence float64 `json:"confidence"`        // 0.0-1.0
	Flags      []Flag  `json:"flags,omitempty"`   // Set of tags, kept sorted
}

// NewEvidenceID derives a deterministic evidence ID from the fields that
// identify an observation.
func NewEvidenceID(criterion, source, locator, goal string) string {
	name := strings.Join([]string{criterion, source, locator, goal}, "\x00")
	return uuid.NewSHA1(evidenceNamespace, []byte(name)).String()
}

// HasFlag reports whether the evidence carries the given flag.
func (e Evidence) HasFlag(f Flag) bool {
	for _, flag := range e.Flags {
		if flag == f {
			return true
		}
	}
	return false
}

// Validate checks if the Evidence has valid field values.
func (e Evidence) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("evidence ID cannot be empty")
	}
	if e.Criterion == "" {
		return fmt.Errorf("evidence %s: criterion cannot be empty", e.ID)
	}
	if e.Source == "" {
		return fmt.Errorf("evidence %s: source cannot be empty", e.ID)
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("evidence %s: confidence must be within [0,1], got %v", e.ID, e.Confidence)
	}
	return nil
}

// normalized returns a copy with Flags sorted and de-duplicated.
func (e Evidence) normalized() Evidence {
	if len(e.Flags) == 0 {
		e.Flags = nil
		return e
	}
	seen := make(map[Flag]bool, len(e.Flags))
	flags := make([]Flag, 0, len(e.Flags))
	for _, f := range e.Flags {
		if !seen[f] {
			seen[f] = true
			flags = append(flags, f)
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
	e.Flags = flags
	return e
}

// Role is one of the fixed reviewer stances.
type Role string

const (
	// RoleProsecutor scores critically and looks for gaps
	RoleProsecutor Role = "Prosecutor"

	// RoleDefense scores generously and credits effort
	RoleDefense Role = "Defense"

	// RoleTechLead scores pragmatically on maintainability and structure
	RoleTechLead Role = "TechLead"
)

// Roles lists every reviewer role in canonical order.
var Roles = []Role{RoleProsecutor, RoleDefense, RoleTechLead}

// Validate checks if the Role is a valid enum value.
func (r Role) Validate() error {
	switch r {
	case RoleProsecutor, RoleDefense, RoleTechLead:
		return nil
	default:
		return fmt.Errorf("unknown reviewer role: %q", r)
	}
}

// ParseRole converts a configuration string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if err := r.Validate(); err != nil {
		return "", err
	}
	return r, nil
}

// Opinion is one reviewer's score for one criterion.
// Opinions are immutable once created and owned by the OpinionStore.
type Opinion struct {
	Criterion     string   `json:"criterion"`                // Criterion ID
	Role          Role     `json:"role"`                     // Reviewer stance
	Score         int      `json:"score"`                    // 1-5
	Rationale     string   `json:"rationale"`                // Reasoning behind the score
	CitedEvidence []string `json:"cited_evidence,omitempty"` // Evidence IDs, kept sorted
}

// OpinionKey identifies an opinion within a run.
type OpinionKey struct {
	Criterion string
	Role      Role
}

// String renders the key as "criterion/role".
func (k OpinionKey) String() string {
	return k.Criterion + "/" + string(k.Role)
}

// Key returns the store key of the opinion.
func (o Opinion) Key() OpinionKey {
	return OpinionKey{Criterion: o.Criterion, Role: o.Role}
}

// Cites reports whether the opinion cites at least one piece of evidence.
func (o Opinion) Cites() bool {
	return len(o.CitedEvidence) > 0
}

// Validate checks if the Opinion has valid field values, including the score range.
func (o Opinion) Validate() error {
	if o.Criterion == "" {
		return fmt.Errorf("opinion criterion cannot be empty")
	}
	if err := o.Role.Validate(); err != nil {
		return fmt.Errorf("opinion %s: %w", o.Key(), err)
	}
	if o.Score < MinScore || o.Score > MaxScore {
		return fmt.Errorf("opinion %s: score must be within [%d,%d], got %d", o.Key(), MinScore, MaxScore, o.Score)
	}
	return nil
}

func (o Opinion) normalized() Opinion {
	if len(o.CitedEvidence) == 0 {
		o.CitedEvidence = nil
		return o
	}
	seen := make(map[string]bool, len(o.CitedEvidence))
	ids := make([]string, 0, len(o.CitedEvidence))
	for _, id := range o.CitedEvidence {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	o.CitedEvidence = ids
	return o
}

// Rule names recorded in Verdict.FiredRule.
const (
	RuleSecurityOverride  = "security_override"
	RuleEvidenceSupremacy = "evidence_supremacy"
	RuleRoleWeighting     = "role_weighting"
	RuleDefault           = "default"
	RuleNoEvidence        = "no_evidence"
	RuleNone              = "none"
)

// VerdictStatus records whether synthesis for a criterion completed cleanly.
type VerdictStatus string

const (
	// VerdictStatusOK indicates a normal synthesis
	VerdictStatusOK VerdictStatus = "ok"

	// VerdictStatusContractViolation indicates an opinion cited evidence missing from the store
	VerdictStatusContractViolation VerdictStatus = "contract_violation"

	// VerdictStatusFailed indicates synthesis could not produce a score for the criterion
	VerdictStatusFailed VerdictStatus = "failed"
)

// Verdict is the reconciled outcome for one criterion.
type Verdict struct {
	Criterion      Criterion     `json:"criterion"`
	FinalScore     float64       `json:"final_score"`
	Dissent        bool          `json:"dissent"`
	FiredRule      string        `json:"fired_rule"`
	RoleScores     map[Role]int  `json:"role_scores"`
	Rationale      string        `json:"rationale"`
	Status         VerdictStatus `json:"status"`
	SecurityCapped bool          `json:"security_capped,omitempty"` // Score was held at the security ceiling
	Warnings       []string      `json:"warnings,omitempty"`        // Integrity warnings surfaced during synthesis
}

// Failed reports whether synthesis for this criterion failed outright.
func (v Verdict) Failed() bool {
	return v.Status == VerdictStatusFailed
}

// Route is the Router's decision after the collect stage.
type Route string

const (
	// RouteReview sends the run through the reviewer stage
	RouteReview Route = "review"

	// RouteSynthesisDirect skips reviewers because no evidence exists
	RouteSynthesisDirect Route = "synthesis_direct"
)

// FailureKind classifies an entry of the report's failure manifest.
type FailureKind string

const (
	FailureKindCollector         FailureKind = "collector_failure"
	FailureKindReviewer          FailureKind = "reviewer_failure"
	FailureKindContractViolation FailureKind = "contract_violation"
	FailureKindSynthesis         FailureKind = "synthesis_failure"
	FailureKindMergeConflict     FailureKind = "merge_conflict"
)

// Failure is one contained failure recorded during a run.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Stage     string      `json:"stage,omitempty"`
	Task      string      `json:"task,omitempty"`
	Criterion string      `json:"criterion,omitempty"`
	Reason    string      `json:"reason"`
}

// Target identifies the artifact under audit.
type Target struct {
	RepoURL string `json:"repo_url,omitempty"` // Remote URL or local directory
	DocPath string `json:"doc_path,omitempty"` // Accompanying document
}

// Validate checks that at least one input is present.
func (t Target) Validate() error {
	if strings.TrimSpace(t.RepoURL) == "" && strings.TrimSpace(t.DocPath) == "" {
		return fmt.Errorf("target needs a repository or a document")
	}
	return nil
}

// String renders the target for logs and listings.
func (t Target) String() string {
	switch {
	case t.RepoURL != "" && t.DocPath != "":
		return t.RepoURL + " + " + t.DocPath
	case t.RepoURL != "":
		return t.RepoURL
	default:
		return t.DocPath
	}
}

// Report is the terminal artefact of a run, handed to a renderer.
type Report struct {
	RunID          string     `json:"run_id"`
	Target         Target     `json:"target"`
	Route          Route      `json:"route"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
	Verdicts       []Verdict  `json:"verdicts"`                // Rubric order
	AggregateScore float64    `json:"aggregate_score"`         // Mean of non-failed final scores
	OverrideNote   string     `json:"override_note,omitempty"` // Global security cap note
	Failures       []Failure  `json:"failures,omitempty"`      // Manifest of contained failures
	Evidence       []Evidence `json:"evidence,omitempty"`      // Everything collected, ordered by ID
	Opinions       []Opinion  `json:"opinions,omitempty"`      // Every merged opinion, including untrusted ones
}

// Degraded reports whether any failure was recorded during the run.
func (r *Report) Degraded() bool {
	return len(r.Failures) > 0
}

// Verdict returns the verdict for a criterion ID.
func (r *Report) Verdict(criterionID string) (*Verdict, bool) {
	for i := range r.Verdicts {
		if r.Verdicts[i].Criterion.ID == criterionID {
			return &r.Verdicts[i], true
		}
	}
	return nil, false
}

// Summary returns the run's listing entry.
func (r *Report) Summary() RunSummary {
	dissent := 0
	for _, v := range r.Verdicts {
		if v.Dissent {
			dissent++
		}
	}
	return RunSummary{
		RunID:          r.RunID,
		Target:         r.Target.String(),
		AggregateScore: r.AggregateScore,
		Criteria:       len(r.Verdicts),
		DissentCount:   dissent,
		FailureCount:   len(r.Failures),
		Capped:         r.OverrideNote != "",
		FinishedAtMs:   r.FinishedAt.UnixMilli(),
	}
}

// RunSummary is the compact view of a report used in run listings and events.
type RunSummary struct {
	RunID          string  `json:"run_id"`
	Target         string  `json:"target"`
	AggregateScore float64 `json:"aggregate_score"`
	Criteria       int     `json:"criteria"`
	DissentCount   int     `json:"dissent_count"`
	FailureCount   int     `json:"failure_count"`
	Capped         bool    `json:"capped"`
	FinishedAtMs   int64   `json:"finished_at_ms"`
}
