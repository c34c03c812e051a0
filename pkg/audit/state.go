package audit

import "time"

// RunState is the immutable snapshot of one run's accumulated state.
//
// A RunState value is safe to hand to concurrent tasks: it exposes no mutators,
// and WithEvidence/WithOpinions return a new snapshot sharing nothing mutable
// with the receiver. Only the stage scheduler's merge step produces new
// snapshots during a run.
type RunState struct {
	RunID     string
	Target    Target
	Criteria  []Criterion
	StartedAt time.Time
	Workspace Workspace

	evidence *EvidenceStore
	opinions *OpinionStore
}

// NewRunState creates the empty snapshot a run starts from.
func NewRunState(runID string, target Target, criteria []Criterion, startedAt time.Time) RunState {
	cs := make([]Criterion, len(criteria))
	copy(cs, criteria)
	return RunState{
		RunID:     runID,
		Target:    target,
		Criteria:  cs,
		StartedAt: startedAt,
		evidence:  NewEvidenceStore(),
		opinions:  NewOpinionStore(),
	}
}

// Workspace holds the local, read-only inputs prepared for a run. RepoDir is a
// checkout of Target.RepoURL; DocPath is the document on local disk. Either may
// be empty when the input was not supplied or could not be prepared.
type Workspace struct {
	RepoDir string `json:"repo_dir,omitempty"`
	DocPath string `json:"doc_path,omitempty"`
}

// WithWorkspace returns a new snapshot bound to the prepared workspace.
func (s RunState) WithWorkspace(ws Workspace) RunState {
	s.Workspace = ws
	return s
}

// Evidence returns the snapshot's evidence store.
func (s RunState) Evidence() *EvidenceStore {
	if s.evidence == nil {
		return NewEvidenceStore()
	}
	return s.evidence
}

// Opinions returns the snapshot's opinion store.
func (s RunState) Opinions() *OpinionStore {
	if s.opinions == nil {
		return NewOpinionStore()
	}
	return s.opinions
}

// WithEvidence returns a new snapshot with items merged into the evidence store.
func (s RunState) WithEvidence(items ...Evidence) RunState {
	s.evidence = s.Evidence().Merge(items...)
	return s
}

// WithOpinions returns a new snapshot with items merged into the opinion store.
func (s RunState) WithOpinions(items ...Opinion) RunState {
	s.opinions = s.Opinions().Merge(items...)
	return s
}

// HasEvidence reports whether any evidence has been collected.
func (s RunState) HasEvidence() bool {
	return s.Evidence().Len() > 0
}
