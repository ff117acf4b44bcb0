// Package cmd defines the CLI commands of the marketupdate executable.
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

	"github.com/JakeFAU/market-update/internal/app"
	"github.com/JakeFAU/market-update/internal/config"
	"github.com/JakeFAU/market-update/internal/digest"
	"github.com/JakeFAU/market-update/internal/logging"
	"github.com/JakeFAU/market-update/internal/quotes"
	"github.com/JakeFAU/market-update/internal/web"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the service container. It is an interface so
// tests can inject their own.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	WebServer(ctx context.Context) (*web.Server, error)
	QuoteFetcher(ctx context.Context) (*quotes.Fetcher, error)
	DigestMailer(ctx context.Context) (*digest.Mailer, error)
}

// newApp is the application factory, swapped out in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// newLogger is the logger factory, swapped out in tests.
var newLogger = logging.New

// newRootCmd builds the command tree. The returned cleanup closes the App built by
// PersistentPreRunE; cobra skips post-run hooks when RunE fails, so callers run it
// after Execute regardless of the outcome.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile     string
		appInstance App
	)
	cleanup := func() {
		if appInstance == nil {
			return
		}
		appInstance.Close()
		_ = appInstance.Logger().Sync()
		appInstance = nil
	}

	cmd := &cobra.Command{
		Use:   "marketupdate",
		Short: "Email signup form and daily stock-market digest.",
		Long: `marketupdate runs the pieces of the daily market update service:
the signup web form, the quote fetcher, the digest mailer, and a scheduler
that triggers the two jobs after the US market close.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Process:     cmd.Name(),
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			built, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			appInstance = built
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, built))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchQuotesCmd())
	cmd.AddCommand(newSendDigestCmd())
	cmd.AddCommand(newScheduleCmd())
	return cmd, cleanup
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI with SIGINT/SIGTERM cancelling the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
