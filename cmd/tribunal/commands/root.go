package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Shared by every command that loads configuration.
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tribunal",
	Short: "Tribunal - rubric-driven evaluation of a repository and its report",
	Long: `Tribunal audits a code repository and its accompanying report against a
rubric. Collectors gather evidence, three reviewers (Prosecutor, Defense and
TechLead) score every criterion from that evidence, and a deterministic
synthesis stage reconciles their opinions into one verdict per criterion.

Reports can be saved to Redis and inspected later with 'tribunal runs'.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to tribunal.yml (default: ./tribunal.yml when present)")
}
