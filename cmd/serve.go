package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/merlian/merlian/internal/server"
)

var flagServeAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API",
	Long: `Serve the JSON API used by the desktop UI:

  GET  /health
  GET  /status
  POST /index            start an index job
  GET  /jobs
  GET  /jobs/:id
  POST /jobs/:id/cancel
  POST /search

When schedule.reindex_cron is set, the configured roots are re-indexed
periodically while the server runs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.StartScheduler(ctx); err != nil {
		return err
	}

	addr := e.Config().Server.Addr
	if flagServeAddr != "" {
		addr = flagServeAddr
	}
	printInfo("", "listening on http://"+addr)
	return server.Serve(ctx, addr, e)
}
