package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/casualjim/shuttle/bridge"
	"github.com/casualjim/shuttle/pkg/natsx"
	"github.com/spf13/cobra"
)

func newRelayCmd(ro *rootOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Move events from the broker queue onto the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ro.load(cmd)
			if err != nil {
				return err
			}
			nc, err := natsx.NewClient(url, "shuttle-relay", nil)
			if err != nil {
				return err
			}
			defer nc.Close()

			relay, err := bridge.NewRelay(nc,
				bridge.WithBrokerQueue(cfg.Relay.BrokerQueue),
				bridge.WithRelayConsumer(cfg.Relay.Consumer),
				bridge.WithRelayPathPrefix(cfg.Relay.PathPrefix),
				bridge.WithRelayEvent(cfg.Relay.Event),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return relay.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&url, "url", natsx.URLFromEnv(), "NATS server URL")
	return cmd
}
