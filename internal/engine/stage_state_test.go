package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageState(t *testing.T) {
	ss := NewStageState(StageCollect, []Task{{Name: "repo"}, {Name: "doc"}})
	assert.False(t, ss.IsComplete())
	assert.Equal(t, []string{"doc", "repo"}, ss.Pending())

	ss.Record(taskResult{name: "repo"})
	ss.Record(taskResult{name: "repo"})
	assert.False(t, ss.IsComplete())
	assert.Equal(t, []string{"doc"}, ss.Pending())

	ss.Record(taskResult{name: "doc"})
	assert.True(t, ss.IsComplete())
	assert.Empty(t, ss.Pending())
}
