package reviewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"time"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/pkg/audit"
)

const (
	// defaultCommandTimeout is the maximum time a reviewer command can run before being killed
	defaultCommandTimeout = 5 * time.Minute

	// maxOutputSize is the maximum number of bytes to read from reviewer stdout/stderr (10MB)
	maxOutputSize = 10 * 1024 * 1024
)

// CommandInput is the JSON document written to a reviewer command's stdin.
type CommandInput struct {
	RunID    string            `json:"run_id"`
	Role     audit.Role        `json:"role"`
	Target   audit.Target      `json:"target"`
	Criteria []audit.Criterion `json:"criteria"`
	Evidence []audit.Evidence  `json:"evidence"`
}

// CommandOutput is the JSON document a reviewer command prints on stdout.
type CommandOutput struct {
	Opinions []audit.Opinion `json:"opinions"`
}

// CommandReviewer delegates scoring to an external program, for example a
// wrapper around a language model. The program reads CommandInput on stdin and
// must print CommandOutput on stdout and exit 0.
type CommandReviewer struct {
	Role    audit.Role
	Command []string
	Timeout time.Duration
	Dir     string // Working directory; empty means the current one
}

// NewCommandReviewer creates a reviewer for role from its configuration.
func NewCommandReviewer(role audit.Role, spec config.ReviewerSpec) *CommandReviewer {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &CommandReviewer{Role: role, Command: spec.Command, Timeout: timeout}
}

// Name implements engine.Reviewer.
func (r *CommandReviewer) Name() string { return string(r.Role) }

// Review implements engine.Reviewer.
func (r *CommandReviewer) Review(ctx context.Context, state audit.RunState) ([]audit.Opinion, error) {
	input, err := json.Marshal(CommandInput{
		RunID:    state.RunID,
		Role:     r.Role,
		Target:   state.Target,
		Criteria: state.Criteria,
		Evidence: state.Evidence().All(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reviewer input: %w", err)
	}

	log.Printf("[Reviewer] Executing %s reviewer: command=%v", r.Role, r.Command)
	start := time.Now()
	stdout, stderr, err := r.execute(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w (stderr: %s)", err, truncate(stderr, 500))
	}
	log.Printf("[Reviewer] %s reviewer finished in %s", r.Role, time.Since(start).Round(time.Millisecond))

	return r.parseOutput(stdout)
}

// execute runs the command with a timeout and output limits.
func (r *CommandReviewer) execute(ctx context.Context, input []byte) (string, string, error) {
	if len(r.Command) == 0 {
		return "", "", fmt.Errorf("command array is empty")
	}

	execCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.Command[0], r.Command[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdin = bytes.NewReader(input)

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	err := cmd.Run()
	stdout, stderr := stdoutBuf.String(), stderrBuf.String()

	if stdoutBuf.Len() >= maxOutputSize || stderrBuf.Len() >= maxOutputSize {
		return stdout, stderr, fmt.Errorf("reviewer output exceeded 10MB limit")
	}
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return stdout, stderr, fmt.Errorf("reviewer command timeout (%s): %w", r.Timeout, context.DeadlineExceeded)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout, stderr, fmt.Errorf("reviewer command exited with code %d", exitErr.ExitCode())
		}
		return stdout, stderr, fmt.Errorf("failed to run reviewer command: %w", err)
	}
	return stdout, stderr, nil
}

// parseOutput decodes stdout and stamps the reviewer's role on each opinion.
func (r *CommandReviewer) parseOutput(stdout string) ([]audit.Opinion, error) {
	if len(stdout) == 0 {
		return nil, fmt.Errorf("reviewer produced no output on stdout")
	}

	var output CommandOutput
	if err := json.Unmarshal([]byte(stdout), &output); err != nil {
		return nil, fmt.Errorf("invalid reviewer JSON: %w", err)
	}

	for i := range output.Opinions {
		o := &output.Opinions[i]
		if o.Role == "" {
			o.Role = r.Role
		}
		if o.Role != r.Role {
			return nil, fmt.Errorf("%s reviewer returned an opinion for role %s", r.Role, o.Role)
		}
	}
	return output.Opinions, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

// truncate limits a string to maxLen characters, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
