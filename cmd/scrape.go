package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/pipeline"
	"github.com/JakeFAU/hk-epaper-ingest/internal/server"
)

// newScrapeCmd creates the 'scrape' subcommand, which runs the ingestion loop.
func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Ingests every issue in the configured date range",
		Long: `Walks the date range one issue at a time: locates the issue, downloads each
artifact, renders PDFs to JPEG and uploads pages that are not stored yet. The
checkpoint advances after every fully processed date.`,
		RunE: withApp(runScrapeCommand),
	}
	cmd.Flags().Bool("dry-run", false, "locate issues and log what would be fetched without writing anything")
	return cmd
}

func runScrapeCommand(cmd *cobra.Command, _ []string, appInstance App) error {
	logger := appInstance.Logger()

	runner, err := appInstance.Runner(cmd.Context())
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	serverDone := make(chan struct{})
	if addr := appInstance.Config().Metrics.ListenAddr; addr != "" {
		srv := server.New(appInstance.Ready, logger)
		go func() {
			defer close(serverDone)
			if err := srv.Serve(ctx, addr); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	} else {
		close(serverDone)
	}

	summary, runErr := runner.Run(ctx)
	cancel()
	<-serverDone

	printSummary(cmd, summary)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("run interrupted")
			return nil
		}
		return fmt.Errorf("run pipeline: %w", runErr)
	}
	if summary.Halted {
		return fmt.Errorf("run halted at %s after a partial date", summary.HaltedAt.Format(time.DateOnly))
	}
	return nil
}

func printSummary(cmd *cobra.Command, s pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Dates", "OK", "Skipped", "Partial", "Pages stored", "Pages skipped", "Pages failed", "Checkpoint"})
	checkpoint := "-"
	if !s.Checkpoint.IsZero() {
		checkpoint = s.Checkpoint.Format(time.DateOnly)
	}
	t.AppendRow(table.Row{s.Dates, s.OK, s.Skipped, s.Partial, s.PagesStored, s.PagesSkipped, s.PagesFailed, checkpoint})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
