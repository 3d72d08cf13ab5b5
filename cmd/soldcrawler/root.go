package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/app"
	"github.com/JakeFAU/sold-listings-crawler/internal/config"
	"github.com/JakeFAU/sold-listings-crawler/internal/logging"
)

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can build the
// container from a fixed config.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger, app.Options{})
}

// newRootCmd builds the command tree. The App built by PersistentPreRunE is
// recorded in holder so Execute can close it even when a subcommand fails.
func newRootCmd(holder **app.App) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "soldcrawler",
		Short: "Crawls sold-property listings into per-day CSV artifacts.",
		Long: `soldcrawler walks the paginated sold-listings results for each locality,
newest first, until the listings fall before a cutoff date. Every page is
written as its own CSV artifact; pages that never render are quarantined so
they can be retried later. A collate pass merges a day's pages into one file
and optionally ships it to GCS and Postgres.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			*holder = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SOLDCRAWLER_* env vars override it")

	cmd.AddCommand(newCrawlCmd(), newCollateCmd(), newCountsCmd(), newServeCmd())
	return cmd
}

// resolveApp fetches the App injected by PersistentPreRunE.
func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services are not initialized")
	}
	return appInstance, nil
}

// execute runs the command tree with args and returns the process exit code.
func execute(ctx context.Context, args []string, out io.Writer) int {
	var appInstance *app.App
	root := newRootCmd(&appInstance)
	root.SetArgs(args)
	root.SetOut(out)
	runErr := root.ExecuteContext(ctx)

	if appInstance == nil {
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "soldcrawler: %v\n", runErr)
			return 1
		}
		return 0
	}

	logger := appInstance.Logger()
	if runErr != nil {
		logger.Error("command failed", zap.Error(runErr))
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	if err := appInstance.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	cancel()
	_ = logger.Sync()

	if runErr != nil {
		return 1
	}
	return 0
}
