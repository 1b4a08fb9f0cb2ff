package shuttle

import (
	"fmt"
	"strings"

	"github.com/casualjim/shuttle/bridge"
	"github.com/fogfish/opts"
)

// DataConnector binds a bridge client to the event it listens for.
type DataConnector struct {
	name   string
	event  string
	client bridge.Client
}

// WithEvent overrides the event a connector listens for.
var WithEvent = opts.ForName[DataConnector, string]("event")

// NewDataConnector creates a connector whose bridge client is picked from the
// connection string in params.
func NewDataConnector(name string, params bridge.Params, options ...opts.Option[DataConnector]) (*DataConnector, error) {
	client, err := bridge.New(params)
	if err != nil {
		return nil, fmt.Errorf("data connector %q: %w", name, err)
	}
	return NewDataConnectorWithClient(name, client, options...)
}

// NewDataConnectorWithClient creates a connector on an existing bridge client.
func NewDataConnectorWithClient(name string, client bridge.Client, options ...opts.Option[DataConnector]) (*DataConnector, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("data connector name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("data connector %q: bridge client is required", name)
	}
	c := &DataConnector{
		name:   name,
		event:  bridge.DefaultEvent,
		client: client,
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, fmt.Errorf("data connector %q: %w", name, err)
	}
	if c.event == "" {
		c.event = bridge.DefaultEvent
	}
	return c, nil
}

func (c *DataConnector) Name() string          { return c.name }
func (c *DataConnector) Event() string         { return c.event }
func (c *DataConnector) Client() bridge.Client { return c.client }
