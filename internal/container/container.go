// Package container wires the subscriber process from its configuration using
// go.uber.org/dig.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/casualjim/shuttle"
	"github.com/casualjim/shuttle/agent"
	"github.com/casualjim/shuttle/internal/config"
	"github.com/casualjim/shuttle/internal/status"
	"github.com/casualjim/shuttle/notify"
	"github.com/casualjim/shuttle/pkg/natsx"
	"github.com/casualjim/shuttle/pkg/tprl"
	"github.com/casualjim/shuttle/prompt"
	"github.com/casualjim/shuttle/queue"
	"github.com/openai/openai-go/option"
	"go.uber.org/dig"
)

const connectTimeout = 30 * time.Second

// Container holds the resolved services of a subscriber process.
type Container struct {
	cfg        *config.Config
	queue      queue.Queue
	subscriber *shuttle.Subscriber
	status     *status.Server
	closers    closers
}

func (c *Container) Config() *config.Config          { return c.cfg }
func (c *Container) Queue() queue.Queue              { return c.queue }
func (c *Container) Subscriber() *shuttle.Subscriber { return c.subscriber }

// Status returns the status server, nil when status.addr is not configured.
func (c *Container) Status() *status.Server { return c.status }

// Close releases the queue and the connections it owns, last opened first.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Output is where the console channel writes. Tests override it.
type Output struct{ io.Writer }

type closers []io.Closer

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// requestOptions configure every OpenAI client of the process.
type requestOptions []option.RequestOption

// New builds and wires every service of the subscriber from cfg. A nil out
// sends console notifications to stdout.
func New(cfg *config.Config, out io.Writer) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() Output { return Output{out} }); err != nil {
		return nil, err
	}
	if err := d.Provide(newRequestOptions); err != nil {
		return nil, err
	}
	if err := d.Provide(newQueue); err != nil {
		return nil, err
	}
	if err := d.Provide(newConnectors); err != nil {
		return nil, err
	}
	if err := d.Provide(newChannels); err != nil {
		return nil, err
	}
	if err := d.Provide(newContextualizer); err != nil {
		return nil, err
	}
	if err := d.Provide(newAgent); err != nil {
		return nil, err
	}
	if err := d.Provide(newSubscriber); err != nil {
		return nil, err
	}
	if err := d.Provide(newStatus); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		q queue.Queue,
		owned closers,
		sub *shuttle.Subscriber,
		srv *status.Server,
	) {
		result = &Container{
			cfg:        cfg,
			queue:      q,
			subscriber: sub,
			status:     srv,
			closers:    owned,
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	return result, nil
}

func newRequestOptions(cfg *config.Config) requestOptions {
	var ro requestOptions
	if cfg.Agent.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(cfg.Agent.BaseURL))
	}
	if cfg.Agent.APIKey != "" {
		ro = append(ro, option.WithAPIKey(cfg.Agent.APIKey))
	}
	return ro
}

func newQueue(cfg *config.Config) (queue.Queue, closers, error) {
	qopts := []queue.Option{queue.WithName(cfg.Queue.Name)}

	switch cfg.Queue.Backend {
	case config.BackendLocal:
		q := queue.NewLocal(qopts...)
		return q, closers{q}, nil

	case config.BackendTemporal:
		if tq := cfg.Queue.Temporal.TaskQueue; tq != "" {
			qopts = append(qopts, queue.WithTaskQueue(tq))
		}
		tc, err := tprl.NewClient(cfg.Queue.Temporal.HostPort, cfg.Queue.Temporal.Namespace)
		if err != nil {
			return nil, nil, err
		}
		q, err := queue.NewTemporal(tc, qopts...)
		if err != nil {
			tc.Close()
			return nil, nil, err
		}
		return q, closers{closerFunc(func() error { tc.Close(); return nil }), q}, nil

	case config.BackendJetStream:
		ep := cfg.Queue.Endpoint()
		nc, err := natsx.NewClient(ep.URL(), "shuttle-subscriber", nil, ep.Options()...)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", queue.ErrQueueUnavailable, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		q, err := queue.NewJetStream(ctx, nc, qopts...)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return q, closers{closerFunc(func() error { return nc.Drain() }), q}, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown queue backend %q", config.ErrInvalid, cfg.Queue.Backend)
	}
}

func newConnectors(cfg *config.Config) ([]*shuttle.DataConnector, error) {
	connectors := make([]*shuttle.DataConnector, 0, len(cfg.Connectors))
	for _, cc := range cfg.Connectors {
		c, err := shuttle.NewDataConnector(cc.Name, cc.Params, shuttle.WithEvent(cc.Event))
		if err != nil {
			return nil, fmt.Errorf("connector %s: %w", cc.Name, err)
		}
		connectors = append(connectors, c)
	}
	return connectors, nil
}

func newChannels(cfg *config.Config, out Output) ([]notify.Channel, error) {
	var (
		channels []notify.Channel
		errs     []error
	)
	if ch := cfg.Channels.Email; ch != nil {
		c, err := notify.NewEmail(*ch)
		errs = append(errs, err)
		if err == nil {
			channels = append(channels, c)
		}
	}
	if ch := cfg.Channels.Slack; ch != nil {
		c, err := notify.NewSlack(*ch)
		errs = append(errs, err)
		if err == nil {
			channels = append(channels, c)
		}
	}
	if ch := cfg.Channels.Telegram; ch != nil {
		c, err := notify.NewTelegram(*ch)
		errs = append(errs, err)
		if err == nil {
			channels = append(channels, c)
		}
	}
	if ch := cfg.Channels.Console; ch != nil {
		channels = append(channels, notify.NewConsole(cfg.AgentDescription, out.Writer, ch.Style))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return channels, nil
}

func newContextualizer(cfg *config.Config, ro requestOptions) prompt.Contextualizer {
	return prompt.NewOpenAI(cfg.Agent.ContextModel, ro...)
}

func newAgent(cfg *config.Config, ro requestOptions) *agent.Agent {
	options := []agent.Option{
		agent.Name(cfg.Agent.Name),
		agent.Temperature(cfg.Agent.Temperature),
		agent.Streaming(cfg.Agent.Stream),
	}
	if cfg.Agent.Model != "" {
		options = append(options, agent.Model(cfg.Agent.Model))
	}
	if cfg.Agent.Instructions != "" {
		options = append(options, agent.Instructions(cfg.Agent.Instructions))
	}
	if len(ro) > 0 {
		options = append(options, agent.RequestOptions(ro[0], ro[1:]...))
	}
	a := agent.New(options...)
	agent.Add(a)
	return a
}

func newSubscriber(
	cfg *config.Config,
	q queue.Queue,
	connectors []*shuttle.DataConnector,
	channels []notify.Channel,
	contextualizer prompt.Contextualizer,
	a *agent.Agent,
) (*shuttle.Subscriber, error) {
	return shuttle.New(
		shuttle.WithAgentDescription(cfg.AgentDescription),
		shuttle.WithQueue(q),
		shuttle.WithConnectors(connectors...),
		shuttle.WithChannels(channels...),
		shuttle.WithContextualizer(contextualizer),
		shuttle.WithAgent(a.Handler()),
	)
}

func newStatus(cfg *config.Config, sub *shuttle.Subscriber) *status.Server {
	if cfg.Status.Addr == "" {
		return nil
	}
	return status.New(cfg.Status.Addr, sub)
}
