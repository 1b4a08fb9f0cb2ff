package main

import (
	"os"

	"github.com/casualjim/shuttle/internal/config"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "shuttle",
		Short:         "Move events from data sources to AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slogx.Setup(ro.logLevel, cmd.ErrOrStderr())
		},
	}

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	cmd.PersistentFlags().StringVarP(&ro.configPath, "config", "c", os.Getenv("SHUTTLE_CONFIG"), "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&ro.logLevel, "log-level", level, "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSubscribeCmd(ro),
		newPublishCmd(ro),
		newRelayCmd(ro),
		newSchemaCmd(),
	)
	return cmd
}

// load reads the configuration file, or returns the defaults when none is set.
func (ro *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if ro.configPath == "" {
		cfg, err = config.Parse(nil)
	} else {
		cfg, err = config.Load(ro.configPath)
	}
	if err != nil {
		return nil, err
	}
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != ro.logLevel {
		slogx.Setup(cfg.LogLevel, cmd.ErrOrStderr())
	}
	return cfg, nil
}
