package main

import (
	"fmt"
	"os"

	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/publisher"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	name        string
	description string
	data        string
	dataFile    string
	dryRun      bool
	queue       string
	params      publisher.Params
}

func newPublishCmd(ro *rootOptions) *cobra.Command {
	po := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an event to the broker queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := po.payload()
			if err != nil {
				return err
			}
			if po.dryRun {
				printer := pp.New()
				printer.SetOutput(cmd.OutOrStdout())
				printer.SetColoringEnabled(false)
				_, err := printer.Println(payload)
				return err
			}

			cfg, err := ro.load(cmd)
			if err != nil {
				return err
			}
			params := cfg.Publisher.Params
			flags := cmd.Flags()
			if flags.Changed("host") {
				params.Host = po.params.Host
			}
			if flags.Changed("port") {
				params.Port = po.params.Port
			}
			if flags.Changed("username") {
				params.Username = po.params.Username
			}
			if flags.Changed("password") {
				params.Password = po.params.Password
			}
			queue := cfg.Publisher.Queue
			if flags.Changed("queue") {
				queue = po.queue
			}

			pub, err := publisher.New(cfg.Publisher.Name, params, publisher.WithQueue(queue))
			if err != nil {
				return err
			}
			if err := pub.Publish(cmd.Context(), payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s published %s to %s\n", color.GreenString("✓"), payload.Name, queue)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&po.name, "name", "n", "", "event name")
	f.StringVarP(&po.description, "description", "d", "", "event description")
	f.StringVar(&po.data, "data", "", "event data as a JSON object")
	f.StringVar(&po.dataFile, "data-file", "", "read the event data from a JSON file")
	f.BoolVar(&po.dryRun, "dry-run", false, "print the event instead of publishing it")
	f.StringVar(&po.queue, "queue", "", "broker queue to publish to")
	f.StringVar(&po.params.Host, "host", "", "broker host")
	f.IntVar(&po.params.Port, "port", 0, "broker port")
	f.StringVar(&po.params.Username, "username", "", "broker username")
	f.StringVar(&po.params.Password, "password", "", "broker password")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	return cmd
}

func (po *publishOptions) payload() (event.Payload, error) {
	raw := []byte(po.data)
	if po.dataFile != "" {
		b, err := os.ReadFile(po.dataFile)
		if err != nil {
			return event.Payload{}, fmt.Errorf("read event data: %w", err)
		}
		raw = b
	}

	var data map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return event.Payload{}, fmt.Errorf("%w: event data must be a JSON object: %w", event.ErrInvalidPayload, err)
		}
	}

	p := event.New(po.name, po.description, data)
	if err := event.Validate(p); err != nil {
		return event.Payload{}, err
	}
	return p, nil
}
