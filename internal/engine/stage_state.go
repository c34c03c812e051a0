package engine

import (
	"sort"
	"time"
)

// StageState tracks the execution state of a single stage while its tasks run.
// It is owned by the goroutine joining the stage and is never shared with tasks.
type StageState struct {
	Stage     string                // "collect" or "review"
	Launched  []string              // Task names launched in this stage, in launch order
	Received  map[string]taskResult // Task name -> result, for tasks that reported back
	StartTime time.Time             // When this stage started
}

// NewStageState creates a state tracker for a stage about to launch tasks.
func NewStageState(stage string, tasks []Task) *StageState {
	launched := make([]string, len(tasks))
	for i, t := range tasks {
		launched[i] = t.Name
	}
	return &StageState{
		Stage:     stage,
		Launched:  launched,
		Received:  make(map[string]taskResult, len(tasks)),
		StartTime: time.Now(),
	}
}

// Record stores a task's result. A second result for the same task is ignored.
func (ss *StageState) Record(r taskResult) {
	if _, ok := ss.Received[r.name]; ok {
		return
	}
	ss.Received[r.name] = r
}

// IsComplete returns true if every launched task has reported back.
func (ss *StageState) IsComplete() bool {
	return len(ss.Received) >= len(ss.Launched)
}

// Pending returns the names of tasks that have not reported back, sorted.
func (ss *StageState) Pending() []string {
	var pending []string
	for _, name := range ss.Launched {
		if _, ok := ss.Received[name]; !ok {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}
