package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dyluth/tribunal/internal/git"
	"github.com/dyluth/tribunal/pkg/audit"
)

// WorkspacePreparer resolves a target into local read-only inputs: a local
// repository directory is used in place, a remote one is shallow-cloned into
// a temporary directory that the returned cleanup removes.
type WorkspacePreparer struct {
	Git        *git.Checker
	CloneDepth int
}

// NewWorkspacePreparer creates a preparer using the git CLI.
func NewWorkspacePreparer() *WorkspacePreparer {
	return &WorkspacePreparer{Git: git.NewChecker(), CloneDepth: git.DefaultCloneDepth}
}

// Prepare implements engine.Preparer. Inputs that cannot be prepared are left
// empty in the workspace and reported in the returned error; collectors turn
// the gap into Found=false evidence.
func (p *WorkspacePreparer) Prepare(ctx context.Context, target audit.Target) (audit.Workspace, func(), error) {
	var ws audit.Workspace
	var errs []error
	cleanup := func() {}

	if target.RepoURL != "" {
		if git.IsRemote(target.RepoURL) {
			tmp, err := os.MkdirTemp("", "tribunal-*")
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to create clone directory: %w", err))
			} else {
				cleanup = func() {
					if err := os.RemoveAll(tmp); err != nil {
						log.Printf("[Collector] Failed to remove %s: %v", tmp, err)
					}
				}
				dest := filepath.Join(tmp, "repo")
				log.Printf("[Collector] Cloning %s (depth %d)", target.RepoURL, p.CloneDepth)
				if err := p.Git.Clone(ctx, target.RepoURL, dest, p.CloneDepth); err != nil {
					errs = append(errs, err)
				} else {
					ws.RepoDir = dest
				}
			}
		} else {
			dir, err := filepath.Abs(target.RepoURL)
			if err == nil {
				var info os.FileInfo
				info, err = os.Stat(dir)
				if err == nil && !info.IsDir() {
					err = fmt.Errorf("not a directory")
				}
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("repository %s: %w", target.RepoURL, err))
			} else {
				ws.RepoDir = dir
			}
		}
	}

	if target.DocPath != "" {
		info, err := os.Stat(target.DocPath)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("document %s: %w", target.DocPath, err))
		case info.IsDir():
			errs = append(errs, fmt.Errorf("document %s: is a directory", target.DocPath))
		default:
			ws.DocPath = target.DocPath
		}
	}

	return ws, cleanup, errors.Join(errs...)
}
