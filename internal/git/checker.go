package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultCloneDepth bounds how much history a remote clone fetches
const DefaultCloneDepth = 50

// Commit is one line of repository history
type Commit struct {
	Hash    string `json:"hash"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

// Checker runs the git CLI against repositories under audit
type Checker struct{}

// NewChecker creates a new Git checker
func NewChecker() *Checker {
	return &Checker{}
}

// IsRemote reports whether ref looks like a clonable URL rather than a local path
func IsRemote(ref string) bool {
	return strings.Contains(ref, "://") || strings.HasPrefix(ref, "git@")
}

// IsRepository checks if dir is within a Git repository
func (c *Checker) IsRepository(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return false, errGitMissing
		}
		return false, nil
	}
	return true, nil
}

// Clone performs a shallow clone of url into dest, which must not exist yet
func (c *Checker) Clone(ctx context.Context, url, dest string, depth int) error {
	if depth <= 0 {
		depth = DefaultCloneDepth
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", "--depth", fmt.Sprint(depth), "--", url, dest)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return errGitMissing
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("git clone %s failed: %s", url, msg)
	}
	return nil
}

// Log returns the repository history oldest first
func (c *Checker) Log(ctx context.Context, dir string) ([]Commit, error) {
	cmd := exec.CommandContext(ctx, "git", "log", "--reverse", "--date=iso", "--pretty=format:%h%x09%ad%x09%s")
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, errGitMissing
		}
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "does not have any commits") {
			return nil, nil
		}
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git log failed: %s", msg)
	}

	var commits []Commit
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		commits = append(commits, Commit{Hash: parts[0], Date: parts[1], Subject: parts[2]})
	}
	return commits, nil
}

var errGitMissing = fmt.Errorf("git not found in PATH\nTribunal requires Git to inspect repositories.\nInstall Git: https://git-scm.com/downloads")
