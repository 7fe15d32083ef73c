// Package cmd defines and implements the CLI commands for the epaper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/app"
	"github.com/JakeFAU/hk-epaper-ingest/internal/config"
	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	"github.com/JakeFAU/hk-epaper-ingest/internal/logging"
	"github.com/JakeFAU/hk-epaper-ingest/internal/pipeline"
	"github.com/JakeFAU/hk-epaper-ingest/internal/sink"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipApp marks commands that run without application services.
const skipApp = "skip-app"

// App defines the application interface that commands will use.
// This allows us to inject a test app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Sink() *sink.Sink
	Clock() epaper.Clock
	Ready(ctx context.Context) error
	Runner(ctx context.Context) (*pipeline.Runner, error)
}

// newApp is the application factory. It's a variable so tests can swap in an in-memory store.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epaper",
		Short: "Ingests Hong Kong e-paper pages into blob storage.",
		Long: `epaper downloads the daily e-paper of TaKungPao and am730, converts page PDFs
to JPEG and stores every page under publisher/YYYY/MM/DD/NNN.ext. Runs resume
from a checkpoint file and skip pages that are already stored.`,
		SilenceUsage: true,

		// Config is loaded here so flags, env and file are merged before the app is built.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			cfg, err := config.LoadWithFlags(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			var files []string
			if cfg.Logging.File != "" {
				files = append(files, cfg.Logging.File)
			}
			logger, err := logging.New(cfg.Logging.Development, files...)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("publisher", "", "publisher profile (TaKungPao, am730)")
	flags.String("start", "", "first issue date, YYYY-MM-DD (default today)")
	flags.String("end", "", "last issue date, YYYY-MM-DD (default today)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPublishersCmd())

	return cmd
}

// withApp resolves the App for a subcommand and closes it on every return path,
// including errors, where cobra skips PersistentPostRun.
func withApp(run func(cmd *cobra.Command, args []string, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close()
		return run(cmd, args, appInstance)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
