// Package publisher submits event payloads to the broker stream that feeds the
// bridge. Every Publish opens its own connection, makes sure the stream exists,
// publishes and disconnects again.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/shuttle/bridge"
	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/pkg/natsx"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrPublishFailed wraps every connectivity or broker failure of Publish.
var ErrPublishFailed = errors.New("failed to publish event")

// Params locate the broker.
type Params struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// Publisher publishes events for one producer.
type Publisher struct {
	name     string
	params   Params
	queue    string
	natsOpts []nats.Option
	log      *slog.Logger
}

var (
	// WithQueue overrides the broker stream events are published to.
	WithQueue = opts.ForName[Publisher, string]("queue")
	// WithNATSOptions adds options to every broker connection.
	WithNATSOptions = opts.ForName[Publisher, []nats.Option]("natsOpts")
)

// New creates a publisher. name identifies the producer in logs and on the
// broker connection.
func New(name string, params Params, options ...opts.Option[Publisher]) (*Publisher, error) {
	if name == "" {
		return nil, errors.New("publisher name is required")
	}
	p := &Publisher{
		name:   name,
		params: params,
		queue:  bridge.DefaultBrokerQueue,
	}
	if err := opts.Apply(p, options); err != nil {
		return nil, err
	}
	p.log = slog.Default().With(slogx.LoggerName("shuttle.publisher"), slog.String("publisher", name))
	return p, nil
}

// Publish validates the payload and stores it on the broker stream.
func (p *Publisher) Publish(ctx context.Context, payload event.Payload) error {
	if err := event.Validate(payload); err != nil {
		return err
	}
	data, err := event.Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	endpoint := natsx.Endpoint{
		Host:     p.params.Host,
		Port:     p.params.Port,
		Username: p.params.Username,
		Password: p.params.Password,
	}
	nc, err := natsx.NewClient(endpoint.URL(), p.name, p.log, append(endpoint.Options(), p.natsOpts...)...)
	if err != nil {
		p.log.Error("broker connection failed", slogx.Error(err))
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if _, err := natsx.EnsureStream(ctx, js, p.queue); err != nil {
		p.log.Error("failed to ensure broker queue", slog.String("queue", p.queue), slogx.Error(err))
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	ack, err := js.Publish(ctx, p.queue, data)
	if err != nil {
		p.log.Error("failed to publish event", slog.String("event_name", payload.Name), slogx.Error(err))
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.log.Info("event published",
		slog.String("event_name", payload.Name),
		slog.String("queue", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}
