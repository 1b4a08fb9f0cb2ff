package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/pkg/natsx"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultBrokerQueue is the broker stream producers publish events to.
	DefaultBrokerQueue = "ads_events_worker_queue"
	// DefaultRelayConsumer is the durable consumer the relay reads with.
	DefaultRelayConsumer = "ads_bridge_relay"
)

// Relay moves events from the broker stream onto the NATS bridge subject.
type Relay struct {
	nc         *nats.Conn
	queue      string
	consumer   string
	pathPrefix string
	event      string
	log        *slog.Logger
}

var (
	// WithBrokerQueue sets the broker stream the relay consumes.
	WithBrokerQueue = opts.ForName[Relay, string]("queue")
	// WithRelayConsumer sets the durable consumer name.
	WithRelayConsumer = opts.ForName[Relay, string]("consumer")
	// WithRelayPathPrefix sets the bridge prefix events are published under.
	WithRelayPathPrefix = opts.ForName[Relay, string]("pathPrefix")
	// WithRelayEvent sets the bridge event name.
	WithRelayEvent = opts.ForName[Relay, string]("event")
)

// NewRelay creates a relay on an established NATS connection.
func NewRelay(nc *nats.Conn, options ...opts.Option[Relay]) (*Relay, error) {
	r := &Relay{
		nc:         nc,
		queue:      DefaultBrokerQueue,
		consumer:   DefaultRelayConsumer,
		pathPrefix: DefaultPathPrefix,
		event:      DefaultEvent,
	}
	if err := opts.Apply(r, options); err != nil {
		return nil, err
	}
	r.log = slog.Default().With(slogx.LoggerName("shuttle.bridge.relay"))
	return r, nil
}

// Subject is where relayed events are published.
func (r *Relay) Subject() string {
	return Params{PathPrefix: r.pathPrefix}.Subject(r.event)
}

// Run relays events until ctx is done. Malformed events are terminated so they
// are not redelivered; publish failures leave the message for redelivery.
func (r *Relay) Run(ctx context.Context) error {
	js, err := jetstream.New(r.nc)
	if err != nil {
		return err
	}
	stream, err := natsx.EnsureStream(ctx, js, r.queue)
	if err != nil {
		return err
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   r.consumer,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", r.consumer, err)
	}

	iter, err := cons.Messages()
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.queue, err)
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	subject := r.Subject()
	r.log.Info("relay started", slog.String("queue", r.queue), slog.String("subject", subject))
	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || errors.Is(err, nats.ErrConnectionClosed) {
				r.log.Info("relay stopped")
				return nil
			}
			r.log.Warn("failed to fetch event", slogx.Error(err))
			continue
		}
		r.relay(msg, subject)
	}
}

func (r *Relay) relay(msg jetstream.Msg, subject string) {
	p, err := event.Decode(msg.Data())
	if err != nil {
		r.log.Error("dropping invalid event", slogx.Error(err), slogx.Truncate("data", string(msg.Data()), 256))
		if terr := msg.Term(); terr != nil {
			r.log.Error("failed to terminate event", slogx.Error(terr))
		}
		return
	}

	if err := r.nc.Publish(subject, msg.Data()); err != nil {
		r.log.Error("failed to relay event", slog.String("event_name", p.Name), slogx.Error(err))
		if nerr := msg.Nak(); nerr != nil {
			r.log.Error("failed to nak event", slogx.Error(nerr))
		}
		return
	}
	if err := msg.Ack(); err != nil {
		r.log.Error("failed to acknowledge event", slog.String("event_name", p.Name), slogx.Error(err))
		return
	}
	r.log.Debug("event relayed", slog.String("event_name", p.Name))
}
