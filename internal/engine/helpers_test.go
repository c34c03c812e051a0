package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/pkg/audit"
)

var (
	safeTooling = audit.Criterion{ID: "safe_tooling", Name: "Safe Tool Engineering", WeightClass: audit.WeightClassSecuritySensitive}
	stateRigor  = audit.Criterion{ID: "state_rigor", Name: "State Management Rigor", WeightClass: audit.WeightClassStandard}
	graphDesign = audit.Criterion{ID: "graph_orchestration", Name: "Graph Orchestration", WeightClass: audit.WeightClassArchitecture}
)

func ev(criterion, locator string, flags ...audit.Flag) audit.Evidence {
	return audit.Evidence{
		ID:         audit.NewEvidenceID(criterion, "test", locator, "check"),
		Criterion:  criterion,
		Source:     "test",
		Locator:    locator,
		Goal:       "check",
		Found:      true,
		Confidence: 0.9,
		Flags:      flags,
	}
}

func op(criterion string, role audit.Role, score int, cites ...string) audit.Opinion {
	return audit.Opinion{Criterion: criterion, Role: role, Score: score, Rationale: "because", CitedEvidence: cites}
}

func testConfig() *config.TribunalConfig {
	cfg := config.Default()
	cfg.Stages.CollectTimeout = 2 * time.Second
	cfg.Stages.ReviewTimeout = 2 * time.Second
	return cfg
}

type fakeCollector struct {
	name     string
	evidence []audit.Evidence
	err      error
	block    <-chan struct{} // when set, Collect ignores ctx and waits on it
}

func (f fakeCollector) Name() string { return f.name }

func (f fakeCollector) Collect(ctx context.Context, state audit.RunState) ([]audit.Evidence, error) {
	if f.block != nil {
		<-f.block
	}
	return f.evidence, f.err
}

type fakeReviewer struct {
	name   string
	review func(state audit.RunState) []audit.Opinion
	calls  *atomic.Int32
	block  <-chan struct{}
}

func (f fakeReviewer) Name() string { return f.name }

func (f fakeReviewer) Review(ctx context.Context, state audit.RunState) ([]audit.Opinion, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	if f.block != nil {
		<-f.block
	}
	return f.review(state), nil
}

type fakePreparer struct {
	ws      audit.Workspace
	err     error
	cleaned *atomic.Bool
}

func (f fakePreparer) Prepare(ctx context.Context, target audit.Target) (audit.Workspace, func(), error) {
	return f.ws, func() { f.cleaned.Store(true) }, f.err
}
