package printer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/tribunal/pkg/audit"
)

func newTestPrinter(t *testing.T) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var out, errOut bytes.Buffer
	return New(&out, &errOut), &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		p, _, errOut := newTestPrinter(t)
		err := p.Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion printed verbatim", func(t *testing.T) {
		p, _, errOut := newTestPrinter(t)
		err := p.Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions numbered", func(t *testing.T) {
		p, _, errOut := newTestPrinter(t)
		err := p.Error("Test Error", "Explanation", []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	p, out, errOut := newTestPrinter(t)
	context := map[string]string{
		"Target": "./repo",
		"Config": "tribunal.yml",
	}

	err := p.ErrorWithContext("Test Error", "Explanation", context, nil)
	require.Equal(t, "Test Error", err.Error())
	assert.Empty(t, out.String())

	s := errOut.String()
	assert.Less(t, strings.Index(s, "Config:"), strings.Index(s, "Target:"), "context keys are sorted")
}

func TestStatusLines(t *testing.T) {
	p, out, _ := newTestPrinter(t)

	p.Success("saved\n")
	p.Warning("degraded\n")
	p.Step("collecting\n")
	p.Info("plain %d\n", 1)

	assert.Equal(t, "✓ saved\n⚠️  degraded\n→ collecting\nplain 1\n", out.String())
}

func TestVerdict(t *testing.T) {
	p, out, _ := newTestPrinter(t)

	p.Verdict(audit.Verdict{
		Criterion:      audit.Criterion{ID: "safe_tooling"},
		FinalScore:     3,
		FiredRule:      audit.RuleSecurityOverride,
		Dissent:        true,
		SecurityCapped: true,
		Status:         audit.VerdictStatusOK,
	})
	p.Verdict(audit.Verdict{
		Criterion:  audit.Criterion{ID: "state_rigor"},
		FinalScore: 1,
		FiredRule:  audit.RuleNone,
		Status:     audit.VerdictStatusFailed,
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "! safe_tooling"))
	assert.Contains(t, lines[0], "3.00")
	assert.Contains(t, lines[0], "[dissent, security-capped]")
	assert.True(t, strings.HasPrefix(lines[1], "✗ state_rigor"))
	assert.Contains(t, lines[1], "[failed]")
}

func TestScore(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	assert.Equal(t, "4.50", Score(4.5))
	assert.Equal(t, "1.00", Score(1))
}
