package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/tribunal/pkg/audit"
)

var now = time.Date(2025, 10, 29, 12, 0, 0, 0, time.UTC)

func TestFormatRunTable(t *testing.T) {
	runs := []audit.RunSummary{
		{RunID: "0f3c9a1e-aaaa", Target: "./agent + report.md", AggregateScore: 3.25, Criteria: 7, DissentCount: 2, FinishedAtMs: now.Add(-90 * time.Minute).UnixMilli()},
		{RunID: "77d2b1c0-bbbb", Target: strings.Repeat("x", 80), AggregateScore: 3, Criteria: 7, FailureCount: 1, Capped: true, FinishedAtMs: now.Add(-3 * 24 * time.Hour).UnixMilli()},
	}

	var buf bytes.Buffer
	n := FormatRunTable(&buf, runs, "default", now)
	assert.Equal(t, 2, n)

	out := buf.String()
	assert.Contains(t, out, "Runs in namespace 'default'")
	assert.Contains(t, out, "0f3c9a1e ")
	assert.NotContains(t, out, "0f3c9a1e-aaaa")
	assert.Contains(t, out, "3.25")
	assert.Contains(t, out, "3.00*")
	assert.Contains(t, out, "1h ago")
	assert.Contains(t, out, "3d ago")
	assert.Contains(t, out, strings.Repeat("x", 57)+"...")
	assert.Contains(t, out, "2 runs found")
}

func TestFormatRunTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 0, FormatRunTable(&buf, nil, "ci", now))
	assert.Equal(t, "No runs found in namespace 'ci'\n", buf.String())
}

func TestFormatRunsJSONL(t *testing.T) {
	runs := []audit.RunSummary{{RunID: "a"}, {RunID: "b"}}

	var buf bytes.Buffer
	require.NoError(t, FormatRunsJSONL(&buf, runs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], `{"run_id":"a"`))
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "-", formatAge(0, now))
	assert.Equal(t, "30s ago", formatAge(now.Add(-30*time.Second).UnixMilli(), now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute).UnixMilli(), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour).UnixMilli(), now))
}

func TestFormatRunLine(t *testing.T) {
	finished := now.Add(-time.Minute)
	run := audit.RunSummary{RunID: "0f3c9a1e-aaaa", Target: "./agent", AggregateScore: 3, Criteria: 7, DissentCount: 1, Capped: true, FinishedAtMs: finished.UnixMilli()}

	var buf bytes.Buffer
	require.NoError(t, FormatRunLine(&buf, run))

	want := "[" + time.UnixMilli(finished.UnixMilli()).Format("15:04:05") + "] 0f3c9a1e  score 3.00*  criteria 7  dissent 1  failures -  ./agent\n"
	assert.Equal(t, want, buf.String())
}
