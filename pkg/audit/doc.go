// Package audit defines the data model shared by every stage of a tribunal run.
//
// # Overview
//
// A run evaluates a Target against an ordered list of Criteria. Collectors
// produce Evidence, reviewers produce one Opinion per criterion under a fixed
// Role, and synthesis reconciles the opinions into one Verdict per criterion.
// The Report is the terminal artefact of a run.
//
// # Stores
//
// EvidenceStore and OpinionStore are append-only persistent values. Merge
// returns a new store and never overwrites an entry, and merging is commutative
// and associative, so concurrent tasks may complete in any order and still yield
// stores with the same Fingerprint.
//
// # Snapshots
//
// RunState bundles both stores with run metadata. Tasks receive a RunState by
// value; it exposes no mutators, so a task can only contribute by returning new
// entries for the scheduler to merge.
//
// # Usage Example
//
//	state := audit.NewRunState(runID, target, criteria, time.Now())
//	state = state.WithEvidence(audit.Evidence{
//		ID:        audit.NewEvidenceID("safe_tooling", "repo", "tools/run.py", "no shell=True"),
//		Criterion: "safe_tooling",
//		Source:    "repo",
//		Locator:   "tools/run.py",
//		Found:     false,
//		Flags:     []audit.Flag{audit.FlagSecurityViolation},
//	})
package audit
