// Package cmd defines and implements the CLI commands for the catalogsync executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/app"
	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/config"
	"github.com/JakeFAU/affiliate-catalog/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the service container. Tests inject a fake.
type App interface {
	Sync(ctx context.Context) (catalog.RunSummary, error)
	Resolve(ctx context.Context, rawURL string) (app.ResolveResult, error)
	Logger() *zap.Logger
	Close()
}

// Factories are variables so tests can replace them.
var (
	loadConfig = config.Load
	newLogger  = func(cfg config.Config) (*zap.Logger, error) {
		return logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			Service:     "catalogsync",
		})
	}
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		return app.New(ctx, cfg, logger)
	}
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalogsync",
		Short: "Keeps the affiliate product catalog in sync with the link sheet.",
		Long: `catalogsync ingests affiliate links from a published CSV, resolves each link
to a product id, extracts live product data and merges it into the catalog
snapshot consumed by the storefront.`,
		SilenceUsage: true,

		// Services are built once here and shared by the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			holderFrom(cmd).app = appInstance
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			holderFrom(cmd).close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); env CATALOG_* overrides")

	cmd.AddCommand(newSyncCmd(), newResolveCmd())
	return cmd
}

// appHolder carries the App through the command context so it is closed even
// when RunE fails and cobra skips the post-run hooks.
type appHolder struct {
	app App
}

func (h *appHolder) close() {
	if h == nil || h.app == nil {
		return
	}
	h.app.Close()
	// Sync fails on non-file stderr; nothing useful to do about it.
	_ = h.app.Logger().Sync()
	h.app = nil
}

func holderFrom(cmd *cobra.Command) *appHolder {
	if h, ok := cmd.Context().Value(appKey).(*appHolder); ok {
		return h
	}
	h := &appHolder{}
	cmd.SetContext(context.WithValue(cmd.Context(), appKey, h))
	return h
}

func resolveApp(ctx context.Context) (App, error) {
	h, ok := ctx.Value(appKey).(*appHolder)
	if !ok || h.app == nil {
		return nil, fmt.Errorf("application services are not initialized")
	}
	return h.app, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	holder := &appHolder{}
	defer holder.close()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(context.WithValue(ctx, appKey, holder))
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
