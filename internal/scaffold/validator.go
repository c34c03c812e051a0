package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/tribunal/internal/config"
)

// CheckExisting returns an error naming any project files already in dir.
func CheckExisting(dir string) error {
	var existing []string
	for _, name := range []string{config.DefaultConfigFile, rubricFile, filepath.Join(judgesDir, reviewerFile)} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			existing = append(existing, name)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("project already initialized\n\nFound existing")
	if len(existing) == 1 {
		fmt.Fprintf(&b, ": %s\n", existing[0])
	} else {
		b.WriteString(" files:\n")
		for _, name := range existing {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}
	b.WriteString("\nUse 'tribunal init --force' to reinitialize (this will overwrite existing configuration)")
	return fmt.Errorf("%s", b.String())
}
