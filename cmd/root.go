// Package cmd defines the CLI commands for the savereelify executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/api"
	"github.com/Ashwin-z/savereelify.com/internal/app"
	"github.com/Ashwin-z/savereelify.com/internal/config"
	"github.com/Ashwin-z/savereelify.com/internal/logging"
)

// application is the slice of *app.App the commands use.
type application interface {
	ListenAndServe(ctx context.Context) error
	Close(ctx context.Context) error
	Fetcher() api.Fetcher
}

// newApp is the application factory. Tests replace it to avoid launching Chrome.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (application, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

type rootOptions struct {
	configPath string
}

// load reads the configuration and builds the process logger.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "savereelify",
		Short: "Instagram reel and post download service.",
		Long: `savereelify resolves Instagram reel and post links into direct media URLs
using a pool of headless browser sessions, and proxies the media back to
clients as file downloads.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(opts), newFetchCmd(opts))
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
