// Package scaffold creates the files of a new tribunal project: tribunal.yml,
// an editable copy of the built-in rubric, and an example external reviewer.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/internal/rubric"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	rubricFile   = "rubric.yml"
	judgesDir    = "judges"
	reviewerFile = "example-reviewer.sh"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string // Relative to the project directory
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the project files in dir and returns their relative paths.
// If force is true, existing project files are replaced.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := removeExisting(dir); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(dir); err != nil {
		return nil, err
	}

	files, err := templateFiles()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dir, judgesDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", judgesDir, err)
	}

	created := make([]string, 0, len(files))
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.Path), file.Content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file.Path)
	}

	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}
	return created, nil
}

// removeExisting removes files a previous init created
func removeExisting(dir string) error {
	for _, name := range []string{config.DefaultConfigFile, rubricFile, filepath.Join(judgesDir, reviewerFile)} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// templateFiles reads the embedded templates and the built-in rubric
func templateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/tribunal.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read tribunal.yml template: %w", err)
	}
	script, err := templatesFS.ReadFile("templates/example-reviewer.sh.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read reviewer template: %w", err)
	}

	return []FileInfo{
		{Path: config.DefaultConfigFile, Content: cfg, Permissions: 0o644},
		{Path: rubricFile, Content: rubric.DefaultYAML(), Permissions: 0o644},
		{Path: filepath.Join(judgesDir, reviewerFile), Content: script, Permissions: 0o755},
	}, nil
}

// validateCreatedFiles loads the written configuration and rubric
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultConfigFile, err)
	}
	if _, err := rubric.Load(filepath.Join(dir, rubricFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", rubricFile, err)
	}
	return nil
}
