package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/tribunal/internal/printer"
	"github.com/dyluth/tribunal/internal/scaffold"
)

var (
	initForce bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new tribunal project",
	Long: `Initialize a new tribunal project with a default configuration.

Creates:
  • tribunal.yml                   - Synthesis thresholds, stage limits, reviewers and storage
  • rubric.yml                     - Editable copy of the built-in rubric
  • judges/example-reviewer.sh     - Template for an external reviewer command

Use --force to reinitialize an existing project (overwrites these files).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing tribunal.yml, rubric.yml and example reviewer")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to initialize")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if initForce {
		p.Warning("--force will overwrite existing project files\n")
	}

	created, err := scaffold.Initialize(initDir, initForce)
	if err != nil {
		return p.Error(
			"initialization failed",
			err.Error(),
			[]string{"Remove the existing files or rerun with --force"},
		)
	}

	p.Success("Initialized tribunal project in %s\n\n", initDir)
	for _, path := range created {
		p.Info("  created %s\n", path)
	}
	p.Info("\nNext steps:\n")
	p.Info("  1. Edit rubric.yml to describe what you want to audit\n")
	p.Info("  2. Run 'tribunal audit --repo-url <repo> --doc-path <report>'\n")
	return nil
}
