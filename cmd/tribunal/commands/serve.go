package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/tribunal/internal/printer"
	"github.com/dyluth/tribunal/internal/server"
)

var (
	serveAddr       string
	serveRubricPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve audits over HTTP",
	Long: `Start the HTTP front end.

Routes:
  GET  /healthz         health, including Redis when run history is configured
  POST /audits          body {"repo_url": "...", "doc_path": "..."}; returns the report
                        as JSON, or Markdown with "Accept: text/markdown"
  GET  /audits/{runID}  a saved report (full or short run ID)

When run history is configured every audit is saved.

Examples:
  tribunal serve --addr :8080
  curl -s -XPOST localhost:8080/audits -d '{"repo_url":"https://github.com/acme/agent.git"}'`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveRubricPath, "rubric", "", "Rubric file (YAML or JSON); overrides the configured rubric")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	sys, err := newAuditSystem(configPath, serveRubricPath)
	if err != nil {
		return err
	}
	defer sys.Close()

	client, err := openDocket(sys.cfg)
	if err != nil {
		return err
	}

	var srv *server.Server
	if client != nil {
		defer client.Close()
		srv = server.New(sys.engine, client)
	} else {
		p.Warning("Run history is not configured; audits will not be saved\n")
		srv = server.New(sys.engine, nil)
	}

	if err := srv.Start(serveAddr); err != nil {
		return printer.Error("failed to start server", err.Error(), []string{"Choose another address with --addr"})
	}
	p.Success("Serving on %s\n", serveAddr)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	p.Step("Shutting down\n")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
