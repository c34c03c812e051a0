// Package rubric loads the ordered list of dimensions a target is audited
// against, together with the probes collectors evaluate for each dimension.
package rubric

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"github.com/dyluth/tribunal/pkg/audit"
	"gopkg.in/yaml.v3"
)

//go:embed default.yml
var defaultRubric []byte

// TargetArtifact names the input a dimension is judged on.
type TargetArtifact string

const (
	TargetRepository TargetArtifact = "repository"
	TargetDocument   TargetArtifact = "document"
)

// ProbeKind selects how a collector checks a probe.
type ProbeKind string

const (
	// ProbeFileExists checks that a path glob matches at least one file
	ProbeFileExists ProbeKind = "file_exists"

	// ProbePattern searches files matching a path glob for a regular expression
	ProbePattern ProbeKind = "pattern"

	// ProbeGitLog requires a minimum number of commits in history
	ProbeGitLog ProbeKind = "git_log"

	// ProbeKeyword requires the document to mention each term
	ProbeKeyword ProbeKind = "keyword"

	// ProbePathClaims cross-checks file paths mentioned in the document against the repository
	ProbePathClaims ProbeKind = "path_claims"
)

// Expectation values for file_exists and pattern probes.
const (
	ExpectPresent = "present"
	ExpectAbsent  = "absent"
)

// Probe is one data-driven check a collector runs for a dimension.
type Probe struct {
	Kind       ProbeKind  `yaml:"kind" json:"kind"`
	Goal       string     `yaml:"goal" json:"goal"`
	Path       string     `yaml:"path,omitempty" json:"path,omitempty"`               // Glob relative to the repository root
	Pattern    string     `yaml:"pattern,omitempty" json:"pattern,omitempty"`         // Regular expression for pattern probes
	Expect     string     `yaml:"expect,omitempty" json:"expect,omitempty"`           // present (default) or absent
	Flag       audit.Flag `yaml:"flag,omitempty" json:"flag,omitempty"`               // Applied to evidence when the expectation is violated
	MinCommits int        `yaml:"min_commits,omitempty" json:"min_commits,omitempty"` // git_log threshold
	Terms      []string   `yaml:"terms,omitempty" json:"terms,omitempty"`             // keyword terms

	re *regexp.Regexp
}

// Regexp returns the compiled pattern. Only valid after Validate.
func (p *Probe) Regexp() *regexp.Regexp {
	return p.re
}

// Violated reports whether an observation breaks the probe's expectation.
func (p *Probe) Violated(present bool) bool {
	if p.Expect == ExpectAbsent {
		return present
	}
	return !present
}

// Dimension is one scored rubric entry.
type Dimension struct {
	ID             string            `yaml:"id" json:"id"`
	Name           string            `yaml:"name" json:"name"`
	TargetArtifact TargetArtifact    `yaml:"target_artifact" json:"target_artifact"`
	WeightClass    audit.WeightClass `yaml:"weight_class" json:"weight_class"`
	Probes         []Probe           `yaml:"probes" json:"probes"`
}

// Criterion returns the dimension as an audit criterion.
func (d Dimension) Criterion() audit.Criterion {
	return audit.Criterion{ID: d.ID, Name: d.Name, WeightClass: d.WeightClass}
}

// Rubric is the ordered set of dimensions for a run. It is read-only once loaded.
type Rubric struct {
	Version    string      `yaml:"version" json:"version"`
	Name       string      `yaml:"name" json:"name"`
	Dimensions []Dimension `yaml:"dimensions" json:"dimensions"`
}

// Default returns the built-in rubric.
func Default() *Rubric {
	r, err := Parse(defaultRubric)
	if err != nil {
		panic(fmt.Sprintf("built-in rubric is invalid: %v", err))
	}
	return r
}

// Load reads a rubric from a YAML or JSON file.
func Load(path string) (*Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rubric %s: %w", path, err)
	}
	return r, nil
}

// LoadOrDefault loads path, or returns the built-in rubric when path is empty.
func LoadOrDefault(path string) (*Rubric, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes and validates a rubric. JSON input is accepted since JSON is valid YAML.
func Parse(data []byte) (*Rubric, error) {
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rubric: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rubric: %w", err)
	}
	return &r, nil
}

// Validate checks the rubric and compiles probe patterns.
func (r *Rubric) Validate() error {
	if r.Version == "" {
		r.Version = "1.0"
	}
	if r.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", r.Version)
	}
	if len(r.Dimensions) == 0 {
		return fmt.Errorf("no dimensions defined")
	}

	seen := make(map[string]bool, len(r.Dimensions))
	for i := range r.Dimensions {
		d := &r.Dimensions[i]
		if d.ID == "" {
			return fmt.Errorf("dimension %d: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate dimension id '%s'", d.ID)
		}
		seen[d.ID] = true

		if d.Name == "" {
			d.Name = d.ID
		}
		if d.WeightClass == "" {
			d.WeightClass = audit.WeightClassStandard
		}
		if err := d.WeightClass.Validate(); err != nil {
			return fmt.Errorf("dimension '%s': %w", d.ID, err)
		}
		if d.TargetArtifact != TargetRepository && d.TargetArtifact != TargetDocument {
			return fmt.Errorf("dimension '%s': invalid target_artifact: %s (must be 'repository' or 'document')", d.ID, d.TargetArtifact)
		}

		for j := range d.Probes {
			if err := d.Probes[j].validate(d.TargetArtifact); err != nil {
				return fmt.Errorf("dimension '%s' probe %d: %w", d.ID, j, err)
			}
		}
	}
	return nil
}

func (p *Probe) validate(target TargetArtifact) error {
	if p.Goal == "" {
		p.Goal = string(p.Kind)
	}
	if p.Expect == "" {
		p.Expect = ExpectPresent
	}
	if p.Expect != ExpectPresent && p.Expect != ExpectAbsent {
		return fmt.Errorf("invalid expect: %s (must be 'present' or 'absent')", p.Expect)
	}

	switch p.Kind {
	case ProbeFileExists, ProbePattern, ProbeGitLog:
		if target != TargetRepository {
			return fmt.Errorf("%s probes need target_artifact 'repository'", p.Kind)
		}
	case ProbeKeyword, ProbePathClaims:
		if target != TargetDocument {
			return fmt.Errorf("%s probes need target_artifact 'document'", p.Kind)
		}
	default:
		return fmt.Errorf("unknown probe kind: %q", p.Kind)
	}

	switch p.Kind {
	case ProbeFileExists:
		if p.Path == "" {
			return fmt.Errorf("file_exists probe requires path")
		}
	case ProbePattern:
		if p.Path == "" || p.Pattern == "" {
			return fmt.Errorf("pattern probe requires path and pattern")
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		p.re = re
	case ProbeGitLog:
		if p.MinCommits < 1 {
			p.MinCommits = 1
		}
	case ProbeKeyword:
		if len(p.Terms) == 0 {
			return fmt.Errorf("keyword probe requires terms")
		}
	}
	return nil
}

// Criteria returns the dimensions as audit criteria, in rubric order.
func (r *Rubric) Criteria() []audit.Criterion {
	out := make([]audit.Criterion, len(r.Dimensions))
	for i, d := range r.Dimensions {
		out[i] = d.Criterion()
	}
	return out
}

// ForArtifact returns the dimensions judged on one kind of input, in rubric order.
func (r *Rubric) ForArtifact(target TargetArtifact) []Dimension {
	var out []Dimension
	for _, d := range r.Dimensions {
		if d.TargetArtifact == target {
			out = append(out, d)
		}
	}
	return out
}

// Dimension returns the dimension with the given ID.
func (r *Rubric) Dimension(id string) (Dimension, bool) {
	for _, d := range r.Dimensions {
		if d.ID == id {
			return d, true
		}
	}
	return Dimension{}, false
}

// DefaultYAML returns the source of the built-in rubric, for scaffolding.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultRubric...)
}
