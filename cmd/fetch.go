package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var post bool
	cmd := &cobra.Command{
		Use:   "fetch <instagram-url>",
		Short: "Resolve one reel or post and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), cfg.ShutdownTimeout())
				defer cancel()
				_ = a.Close(closeCtx)
			}()

			fetch := a.Fetcher().FetchReel
			if post {
				fetch = a.Fetcher().FetchPost
			}
			res, err := fetch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res) //nolint:wrapcheck // stdout write
		},
	}
	cmd.Flags().BoolVar(&post, "post", false, "treat the link as a post (accepts /p/ and /reel/ links)")
	return cmd
}
