package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/casualjim/shuttle/internal/container"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newSubscribeCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Listen on the configured connectors and hand every event to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateSubscriber(); err != nil {
				return err
			}

			c, err := container.New(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					slog.Warn("failed to close queue", slogx.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return c.Subscriber().Run(gctx) })
			if srv := c.Status(); srv != nil {
				g.Go(func() error { return srv.Run(gctx) })
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s subscriber running with %d connector(s), press Ctrl+C to stop\n",
				color.GreenString("✓"), len(cfg.Connectors))

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown complete")
			return nil
		},
	}
}
