package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/internal/filter"
	"github.com/dyluth/tribunal/internal/printer"
	"github.com/dyluth/tribunal/internal/watch"
)

var (
	watchOutputFormat string
	watchTarget       string
	watchBelow        float64
	watchDissent      bool
	watchDegraded     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream runs as they are saved",
	Long: `Print a line for every run saved to run history, until interrupted.

Runs saved by 'tribunal audit --save' and by 'tribunal serve' are both shown.
Delivery is live only: runs saved while watch is not running are listed with
'tribunal runs'.

Examples:
  # Every run
  tribunal watch

  # Only failing runs, as JSONL
  tribunal watch --below=3 --output=jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	watchCmd.Flags().StringVar(&watchTarget, "target", "", "Filter by target (glob pattern)")
	watchCmd.Flags().Float64Var(&watchBelow, "below", 0, "Only runs whose aggregate score is below this value")
	watchCmd.Flags().BoolVar(&watchDissent, "dissent", false, "Only runs with reviewer dissent")
	watchCmd.Flags().BoolVar(&watchDegraded, "degraded", false, "Only runs with recorded failures")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutputFormat != "default" && watchOutputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			"Unknown format: "+watchOutputFormat,
			[]string{"Valid formats: default, jsonl"},
		)
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	client, err := requireDocket(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pingDocket(ctx, client, cfg); err != nil {
		return err
	}

	sub, err := client.SubscribeRunEvents(ctx)
	if err != nil {
		return printer.Error("failed to subscribe to run events", err.Error(), nil)
	}
	defer sub.Close()

	if watchOutputFormat == "default" {
		p := printer.New(cmd.ErrOrStderr(), cmd.ErrOrStderr())
		p.Step("Watching runs in namespace '%s' (Ctrl+C to stop)\n", cfg.Storage.Namespace)
	}

	criteria := &filter.Criteria{
		TargetGlob:   watchTarget,
		BelowScore:   watchBelow,
		DissentOnly:  watchDissent,
		DegradedOnly: watchDegraded,
	}
	_, err = watch.Stream(ctx, sub, cmd.OutOrStdout(), criteria, watchOutputFormat == "jsonl")
	return err
}
