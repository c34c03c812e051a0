// Package printer writes coloured CLI output: status lines, verdict lines and
// the formatted errors returned to Cobra.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/tribunal/pkg/audit"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Printer writes to an output and an error stream.
type Printer struct {
	out    io.Writer
	errOut io.Writer
}

// New creates a printer. Commands pass cmd.OutOrStdout() and cmd.ErrOrStderr().
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, errOut: errOut}
}

var std = New(os.Stdout, os.Stderr)

// Success prints a success message in green with a checkmark prefix
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(p.out, msg)
}

// Info prints an informational message in the default color
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(p.out, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error with title, explanation, and suggestions to
// the error stream and returns a simple error for Cobra.
func (p *Printer) Error(title string, explanation string, suggestions []string) error {
	return p.ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value context details, printed in key order.
func (p *Printer) ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(p.errOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(p.errOut, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for key := range context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(p.errOut, "\n")
		for _, key := range keys {
			fmt.Fprintf(p.errOut, "  %s: %s\n", key, context[key])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(p.errOut, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(p.errOut, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(p.errOut, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Not printed by Cobra (SilenceErrors)
	return fmt.Errorf("%s", title)
}

// Verdict prints one line per criterion: marker, ID, coloured score, rule and flags.
func (p *Printer) Verdict(v audit.Verdict) {
	marker := green.Sprint("✓")
	switch {
	case v.Failed():
		marker = red.Sprint("✗")
	case v.Status == audit.VerdictStatusContractViolation || v.SecurityCapped:
		marker = yellow.Sprint("!")
	}

	var tags []string
	if v.Dissent {
		tags = append(tags, "dissent")
	}
	if v.SecurityCapped {
		tags = append(tags, "security-capped")
	}
	if v.Status != audit.VerdictStatusOK {
		tags = append(tags, string(v.Status))
	}

	line := fmt.Sprintf("%s %-28s %s  %s", marker, v.Criterion.ID, Score(v.FinalScore), faint.Sprint(v.FiredRule))
	if len(tags) > 0 {
		line += "  " + yellow.Sprintf("[%s]", strings.Join(tags, ", "))
	}
	fmt.Fprintln(p.out, line)
}

// Score renders a score coloured by band: 4 and above green, 3 and above yellow, red below.
func Score(score float64) string {
	s := fmt.Sprintf("%.2f", score)
	switch {
	case score >= 4:
		return green.Sprint(s)
	case score >= 3:
		return yellow.Sprint(s)
	default:
		return red.Sprint(s)
	}
}

// Success prints to stdout.
func Success(format string, a ...any) { std.Success(format, a...) }

// Info prints to stdout.
func Info(format string, a ...any) { std.Info(format, a...) }

// Warning prints to stdout.
func Warning(format string, a ...any) { std.Warning(format, a...) }

// Step prints to stdout.
func Step(format string, a ...any) { std.Step(format, a...) }

// Error prints to stderr and returns the title as an error.
func Error(title string, explanation string, suggestions []string) error {
	return std.Error(title, explanation, suggestions)
}

// ErrorWithContext prints to stderr and returns the title as an error.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	return std.ErrorWithContext(title, explanation, context, suggestions)
}
