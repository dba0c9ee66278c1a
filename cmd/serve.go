package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// exit is swapped in tests.
var exit = os.Exit

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			return serve(ctx, a, cfg.ShutdownTimeout(), logger)
		},
	}
}

// serve blocks until ctx ends, then shuts the application down. A panic
// still releases the browser before the process exits non-zero.
func serve(ctx context.Context, a application, timeout time.Duration, logger *zap.Logger) error {
	shutdown := func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("application shutdown incomplete", zap.Error(cerr))
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("fatal panic, shutting down", zap.Any("panic", rec), zap.Stack("stack"))
			shutdown()
			_ = logger.Sync()
			exit(1)
		}
	}()

	if err := a.ListenAndServe(ctx); err != nil {
		shutdown()
		return err //nolint:wrapcheck // already annotated by the app
	}
	shutdown()
	logger.Info("shutdown complete")
	return nil
}
