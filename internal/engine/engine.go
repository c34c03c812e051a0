package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/pkg/audit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage names used in logs and the failure manifest.
const (
	StageCollect   = "collect"
	StageReview    = "review"
	StageSynthesis = "synthesis"
)

// Collector gathers evidence for a run. Implementations must not retain state.
type Collector interface {
	Name() string
	Collect(ctx context.Context, state audit.RunState) ([]audit.Evidence, error)
}

// Reviewer scores criteria from the collected evidence under a fixed stance.
type Reviewer interface {
	Name() string
	Review(ctx context.Context, state audit.RunState) ([]audit.Opinion, error)
}

// Preparer turns a target into local read-only inputs. The returned cleanup
// func is called when the run finishes; it may be nil.
type Preparer interface {
	Prepare(ctx context.Context, target audit.Target) (audit.Workspace, func(), error)
}

// Components are the pluggable parts of a run.
type Components struct {
	Preparer   Preparer
	Collectors []Collector
	Reviewers  []Reviewer
}

// Engine drives a run through collect, route, review and synthesis, and
// assembles the report. An Engine may run several audits concurrently; each
// run owns its state.
type Engine struct {
	cfg        *config.TribunalConfig
	criteria   []audit.Criterion
	components Components
	synth      *Synthesizer
	now        func() time.Time
}

// NewEngine creates a new engine for the given rubric criteria.
// A nil cfg means built-in defaults. The engine validates its own copy of cfg,
// so unset fields get their defaults; it panics on a config that fails validation.
func NewEngine(cfg *config.TribunalConfig, criteria []audit.Criterion, components Components) *Engine {
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg = cfg.Clone()
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("invalid config: %v", err))
		}
	}

	return &Engine{
		cfg:        cfg,
		criteria:   append([]audit.Criterion(nil), criteria...),
		components: components,
		synth:      NewSynthesizer(*cfg.Synthesis),
		now:        time.Now,
	}
}

// Criteria returns the rubric criteria the engine scores, in rubric order.
func (e *Engine) Criteria() []audit.Criterion {
	return append([]audit.Criterion(nil), e.criteria...)
}

// Run audits target and returns the report. Individual task, criterion and
// preparation failures are contained and listed in Report.Failures; the only
// error returned is for a target with no inputs.
func (e *Engine) Run(ctx context.Context, target audit.Target) (*audit.Report, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	startedAt := e.now().UTC()
	var failures []audit.Failure

	log.Printf("[Engine] Starting run %s for %s (%d criteria)", runID, target, len(e.criteria))

	state := audit.NewRunState(runID, target, e.criteria, startedAt)

	if e.components.Preparer != nil {
		ws, cleanup, err := e.components.Preparer.Prepare(ctx, target)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			log.Printf("[Engine] Target preparation failed for run %s: %v", runID, err)
			failures = append(failures, audit.Failure{
				Kind:   audit.FailureKindCollector,
				Stage:  StageCollect,
				Task:   "prepare",
				Reason: err.Error(),
			})
		}
		state = state.WithWorkspace(ws)
	}

	// Collect
	state, outcome := e.runStage(ctx, StageCollect, state, e.collectorTasks(), e.cfg.Stages.CollectTimeout)
	failures = append(failures, stageFailures(outcome, audit.FailureKindCollector)...)

	// Route
	route := Route(state)
	e.logEvent(runID, "route_selected", map[string]interface{}{
		"route":          route,
		"evidence_count": state.Evidence().Len(),
	})

	// Review
	if route == audit.RouteReview {
		state, outcome = e.runStage(ctx, StageReview, state, e.reviewerTasks(), e.cfg.Stages.ReviewTimeout)
		failures = append(failures, stageFailures(outcome, audit.FailureKindReviewer)...)
	}

	// Synthesis
	verdicts, synthFailures := e.synthesize(runID, state)
	failures = append(failures, synthFailures...)

	report := &audit.Report{
		RunID:      runID,
		Target:     target,
		Route:      route,
		StartedAt:  startedAt,
		FinishedAt: e.now().UTC(),
		Verdicts:   verdicts,
		Failures:   failures,
		Evidence:   state.Evidence().All(),
		Opinions:   state.Opinions().All(),
	}
	report.AggregateScore, report.OverrideNote = aggregate(verdicts, e.cfg.Synthesis.SecurityCeiling)

	e.logEvent(runID, "report_assembled", map[string]interface{}{
		"aggregate_score": report.AggregateScore,
		"verdicts":        len(verdicts),
		"failures":        len(failures),
		"capped":          report.OverrideNote != "",
		"duration_ms":     report.FinishedAt.Sub(startedAt).Milliseconds(),
	})
	log.Printf("[Engine] Run %s complete: aggregate %.2f over %d criteria (%d failures)",
		runID, report.AggregateScore, len(verdicts), len(failures))

	return report, nil
}

func (e *Engine) runStage(ctx context.Context, stage string, state audit.RunState, tasks []Task, timeout time.Duration) (audit.RunState, StageOutcome) {
	e.logEvent(state.RunID, "stage_started", map[string]interface{}{
		"stage": stage,
		"tasks": len(tasks),
	})

	next, outcome := RunStage(ctx, stage, state, tasks, StageOptions{
		Timeout:        timeout,
		MaxConcurrency: e.cfg.Stages.MaxConcurrency,
	})

	for _, f := range outcome.Failed {
		e.logEvent(state.RunID, "task_failed", map[string]interface{}{
			"stage":     stage,
			"task":      f.Task,
			"reason":    f.Reason,
			"timed_out": f.TimedOut,
		})
	}
	e.logEvent(state.RunID, "stage_complete", map[string]interface{}{
		"stage":       stage,
		"completed":   outcome.Completed,
		"failed":      len(outcome.Failed),
		"conflicts":   len(outcome.Conflicts),
		"duration_ms": outcome.Duration.Milliseconds(),
	})

	return next, outcome
}

func (e *Engine) collectorTasks() []Task {
	tasks := make([]Task, 0, len(e.components.Collectors))
	for _, c := range e.components.Collectors {
		tasks = append(tasks, Task{
			Name: c.Name(),
			Run: func(ctx context.Context, state audit.RunState) (TaskOutput, error) {
				evidence, err := c.Collect(ctx, state)
				return TaskOutput{Evidence: evidence}, err
			},
		})
	}
	return tasks
}

func (e *Engine) reviewerTasks() []Task {
	tasks := make([]Task, 0, len(e.components.Reviewers))
	for _, r := range e.components.Reviewers {
		tasks = append(tasks, Task{
			Name: r.Name(),
			Run: func(ctx context.Context, state audit.RunState) (TaskOutput, error) {
				opinions, err := r.Review(ctx, state)
				return TaskOutput{Opinions: opinions}, err
			},
		})
	}
	return tasks
}

// synthesize produces one verdict per criterion, in rubric order, running the
// criteria concurrently.
func (e *Engine) synthesize(runID string, state audit.RunState) ([]audit.Verdict, []audit.Failure) {
	verdicts := make([]audit.Verdict, len(e.criteria))
	perCriterion := make([][]audit.Failure, len(e.criteria))
	evidence, opinions := state.Evidence(), state.Opinions()

	var g errgroup.Group
	if limit := e.cfg.Stages.MaxConcurrency; limit > 0 {
		g.SetLimit(limit)
	}

	for i, criterion := range e.criteria {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					log.Printf("[Engine] Synthesis for %s panicked: %v", criterion.ID, p)
					verdicts[i] = audit.Verdict{
						Criterion:  criterion,
						FinalScore: audit.MinScore,
						FiredRule:  audit.RuleNone,
						RoleScores: map[audit.Role]int{},
						Rationale:  fmt.Sprintf("synthesis failed: %v", p),
						Status:     audit.VerdictStatusFailed,
					}
					perCriterion[i] = []audit.Failure{{
						Kind:      audit.FailureKindSynthesis,
						Stage:     StageSynthesis,
						Criterion: criterion.ID,
						Reason:    fmt.Sprintf("panic: %v", p),
					}}
				}
			}()

			v, err := e.synth.Synthesize(criterion, opinions.ForCriterion(criterion.ID), evidence)
			verdicts[i] = v
			perCriterion[i] = synthesisFailures(criterion.ID, err)
			return nil
		})
	}
	_ = g.Wait()

	var failures []audit.Failure
	for i, v := range verdicts {
		failures = append(failures, perCriterion[i]...)
		switch v.Status {
		case audit.VerdictStatusContractViolation:
			e.logEvent(runID, "contract_violation", map[string]interface{}{
				"criterion": v.Criterion.ID,
				"warnings":  v.Warnings,
			})
		case audit.VerdictStatusFailed:
			e.logEvent(runID, "synthesis_failed", map[string]interface{}{
				"criterion": v.Criterion.ID,
				"rationale": v.Rationale,
			})
		}
		e.logEvent(runID, "verdict_synthesized", map[string]interface{}{
			"criterion":   v.Criterion.ID,
			"final_score": v.FinalScore,
			"fired_rule":  v.FiredRule,
			"dissent":     v.Dissent,
			"status":      v.Status,
		})
	}
	return verdicts, failures
}

func synthesisFailures(criterionID string, err error) []audit.Failure {
	var out []audit.Failure
	for _, e := range unwrapAll(err) {
		kind := audit.FailureKindSynthesis
		var cv *ContractViolationError
		if errors.As(e, &cv) {
			kind = audit.FailureKindContractViolation
		}
		out = append(out, audit.Failure{
			Kind:      kind,
			Stage:     StageSynthesis,
			Criterion: criterionID,
			Reason:    e.Error(),
		})
	}
	return out
}

func stageFailures(outcome StageOutcome, kind audit.FailureKind) []audit.Failure {
	var out []audit.Failure
	for _, f := range outcome.Failed {
		out = append(out, audit.Failure{
			Kind:   kind,
			Stage:  outcome.Stage,
			Task:   f.Task,
			Reason: f.Reason,
		})
	}
	for _, key := range outcome.Conflicts {
		out = append(out, audit.Failure{
			Kind:   audit.FailureKindMergeConflict,
			Stage:  outcome.Stage,
			Reason: "conflicting entries for " + key + "; kept the canonical lowest entry",
		})
	}
	return out
}

// aggregate returns the mean final score of non-failed verdicts rounded to two
// decimals, held at the security ceiling when any criterion was capped. With no
// scorable verdicts the aggregate is 0.
func aggregate(verdicts []audit.Verdict, ceiling int) (float64, string) {
	var scores []float64
	var capped []string
	for _, v := range verdicts {
		if v.SecurityCapped {
			capped = append(capped, v.Criterion.ID)
		}
		if v.Failed() {
			continue
		}
		scores = append(scores, v.FinalScore)
	}

	score := math.Round(mean(scores)*100) / 100
	if len(capped) == 0 {
		return score, ""
	}
	if score > float64(ceiling) {
		score = float64(ceiling)
	}
	note := fmt.Sprintf("Security override applied to %s: confirmed security violations cap the overall score at %d.",
		strings.Join(capped, ", "), ceiling)
	return score, note
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(runID, eventType string, data map[string]interface{}) {
	data["timestamp"] = e.now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "engine"
	data["event_type"] = eventType
	data["run_id"] = runID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Engine] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
