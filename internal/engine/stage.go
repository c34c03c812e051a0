package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dyluth/tribunal/pkg/audit"
	"golang.org/x/sync/semaphore"
)

// TaskOutput is what a task hands back: new entries only, never a modified store.
type TaskOutput struct {
	Evidence []audit.Evidence
	Opinions []audit.Opinion
}

// Task is one unit of work inside a stage. Run receives a read-only snapshot.
type Task struct {
	Name string
	Run  func(ctx context.Context, state audit.RunState) (TaskOutput, error)
}

// StageOptions bounds a stage run.
type StageOptions struct {
	Timeout        time.Duration // 0 means no stage deadline beyond ctx
	MaxConcurrency int           // <1 means unbounded
}

// TaskFailure records why a task's output was excluded from the merge.
type TaskFailure struct {
	Task     string `json:"task"`
	Reason   string `json:"reason"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// StageOutcome summarises a stage run for the failure manifest and logs.
type StageOutcome struct {
	Stage     string        `json:"stage"`
	Completed []string      `json:"completed"`
	Failed    []TaskFailure `json:"failed,omitempty"`
	Conflicts []string      `json:"conflicts,omitempty"` // Keys that received conflicting entries during this stage
	Duration  time.Duration `json:"duration"`
}

type taskResult struct {
	name   string
	output TaskOutput
	err    error
}

// RunStage launches every task concurrently against the same snapshot and joins
// on all of them. Successful outputs are merged into a new snapshot once the
// join completes. Tasks that fail, panic, return malformed output, or miss the
// stage deadline are recorded in the outcome and contribute nothing. A task
// that finishes after the deadline sends into a buffered channel nobody reads,
// so its result cannot reach any snapshot.
func RunStage(ctx context.Context, stage string, state audit.RunState, tasks []Task, opts StageOptions) (audit.RunState, StageOutcome) {
	tasks = uniqueNames(tasks)
	ss := NewStageState(stage, tasks)
	outcome := StageOutcome{Stage: stage}

	if len(tasks) == 0 {
		return state, outcome
	}

	stageCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	limit := int64(opts.MaxConcurrency)
	if limit < 1 {
		limit = int64(len(tasks))
	}
	sem := semaphore.NewWeighted(limit)

	results := make(chan taskResult, len(tasks))
	for _, task := range tasks {
		go func(task Task) {
			if err := sem.Acquire(stageCtx, 1); err != nil {
				results <- taskResult{name: task.Name, err: fmt.Errorf("not started: %w", err)}
				return
			}
			defer sem.Release(1)
			results <- runTask(stageCtx, task, state)
		}(task)
	}

	timedOut := false
join:
	for !ss.IsComplete() {
		select {
		case r := <-results:
			ss.Record(r)
		case <-stageCtx.Done():
			timedOut = true
			break join
		}
	}
	if timedOut {
		// Keep results that were already delivered when the deadline fired.
		for drained := false; !drained; {
			select {
			case r := <-results:
				ss.Record(r)
			default:
				drained = true
			}
		}
	}

	next := state
	names := make([]string, 0, len(ss.Received))
	for name := range ss.Received {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := ss.Received[name]
		if r.err != nil {
			outcome.Failed = append(outcome.Failed, TaskFailure{
				Task:     name,
				Reason:   r.err.Error(),
				TimedOut: errors.Is(r.err, context.DeadlineExceeded),
			})
			continue
		}
		if err := validateOutput(r.output, state.Criteria); err != nil {
			outcome.Failed = append(outcome.Failed, TaskFailure{Task: name, Reason: err.Error()})
			continue
		}
		next = next.WithEvidence(r.output.Evidence...).WithOpinions(r.output.Opinions...)
		outcome.Completed = append(outcome.Completed, name)
	}

	for _, name := range ss.Pending() {
		outcome.Failed = append(outcome.Failed, TaskFailure{
			Task:     name,
			Reason:   fmt.Sprintf("no result before %s stage deadline", stage),
			TimedOut: true,
		})
	}
	sort.Slice(outcome.Failed, func(i, j int) bool { return outcome.Failed[i].Task < outcome.Failed[j].Task })

	outcome.Conflicts = newConflicts(state, next)
	outcome.Duration = time.Since(ss.StartTime)
	return next, outcome
}

// uniqueNames suffixes repeated task names so each task reports under its own key.
// A suffixed name never collides with a name given to another task.
func uniqueNames(tasks []Task) []Task {
	used := make(map[string]bool, len(tasks))
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		name := t.Name
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s#%d", t.Name, n)
		}
		used[name] = true
		t.Name = name
		out[i] = t
	}
	return out
}

// runTask executes a task, converting a panic into a task error.
func runTask(ctx context.Context, task Task, state audit.RunState) (result taskResult) {
	result.name = task.Name
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[Engine] Task %s panicked: %v", task.Name, p)
			result.output = TaskOutput{}
			result.err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	result.output, result.err = task.Run(ctx, state)
	return result
}

// validateOutput rejects a task's whole output when any entry is missing a
// required key or names a criterion outside the rubric. Score ranges are left
// to synthesis, which fails only the affected criterion.
func validateOutput(out TaskOutput, criteria []audit.Criterion) error {
	known := make(map[string]bool, len(criteria))
	for _, c := range criteria {
		known[c.ID] = true
	}

	for _, e := range out.Evidence {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("malformed evidence: %w", err)
		}
		if !known[e.Criterion] {
			return fmt.Errorf("malformed evidence: %s references unknown criterion %q", e.ID, e.Criterion)
		}
	}
	for _, o := range out.Opinions {
		if o.Criterion == "" {
			return fmt.Errorf("malformed opinion: criterion cannot be empty")
		}
		if err := o.Role.Validate(); err != nil {
			return fmt.Errorf("malformed opinion %s: %w", o.Key(), err)
		}
		if !known[o.Criterion] {
			return fmt.Errorf("malformed opinion: %s references unknown criterion", o.Key())
		}
	}
	return nil
}

func newConflicts(before, after audit.RunState) []string {
	seen := make(map[string]bool)
	for _, key := range before.Evidence().Conflicts() {
		seen["evidence:"+key] = true
	}
	for _, key := range before.Opinions().Conflicts() {
		seen["opinion:"+key] = true
	}

	var out []string
	for _, key := range after.Evidence().Conflicts() {
		if !seen["evidence:"+key] {
			out = append(out, "evidence:"+key)
		}
	}
	for _, key := range after.Opinions().Conflicts() {
		if !seen["opinion:"+key] {
			out = append(out, "opinion:"+key)
		}
	}
	return out
}
