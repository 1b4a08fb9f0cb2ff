package shuttle

import (
	"fmt"

	"github.com/casualjim/shuttle/notify"
	"github.com/casualjim/shuttle/prompt"
	"github.com/casualjim/shuttle/queue"
	"github.com/fogfish/opts"
)

var (
	// WithAgentDescription describes the agent to the prompt template and the notification header.
	WithAgentDescription = opts.ForName[Subscriber, string]("agentDescription")

	// WithQueue sets the job queue. The caller owns it and closes it after the subscriber stopped.
	WithQueue = opts.ForName[Subscriber, queue.Queue]("queue")

	// WithContextualizer replaces the OpenAI contextualizer used to phrase prompts.
	WithContextualizer = opts.ForName[Subscriber, prompt.Contextualizer]("contextualizer")
)

// WithConnectors adds data connectors to listen on.
func WithConnectors(connectors ...*DataConnector) opts.Option[Subscriber] {
	return opts.Type[Subscriber](func(s *Subscriber) error {
		for _, c := range connectors {
			if c == nil {
				return fmt.Errorf("nil data connector")
			}
		}
		s.connectors = append(s.connectors, connectors...)
		return nil
	})
}

// WithChannels adds notification channels.
func WithChannels(channels ...notify.Channel) opts.Option[Subscriber] {
	return opts.Type[Subscriber](func(s *Subscriber) error {
		for _, ch := range channels {
			if ch != nil {
				s.channels = append(s.channels, ch)
			}
		}
		return nil
	})
}

// WithAgent sets the agent handler. It may be applied once and excludes WithSink.
func WithAgent(h AgentHandler) opts.Option[Subscriber] {
	return opts.Type[Subscriber](func(s *Subscriber) error {
		if h.IsZero() {
			return fmt.Errorf("%w: agent handler has no function", ErrNoHandlerConfigured)
		}
		if !s.handler.IsZero() || s.sink != nil {
			return ErrHandlerAlreadyConfigured
		}
		s.handler = h
		return nil
	})
}

// WithSink hands every invocation to fn instead of running an agent.
func WithSink(fn Sink) opts.Option[Subscriber] {
	return opts.Type[Subscriber](func(s *Subscriber) error {
		if fn == nil {
			return fmt.Errorf("%w: sink is nil", ErrNoHandlerConfigured)
		}
		if !s.handler.IsZero() || s.sink != nil {
			return ErrHandlerAlreadyConfigured
		}
		s.sink = fn
		return nil
	})
}

// WithPromptRetry tunes the backoff between contextualization attempts.
func WithPromptRetry(options ...opts.Option[prompt.Retrying]) opts.Option[Subscriber] {
	return opts.Type[Subscriber](func(s *Subscriber) error {
		s.retry = append(s.retry, options...)
		return nil
	})
}

// WithHooks adds observers of job state changes.
func WithHooks(hooks ...Hook) opts.Option[Subscriber] {
	return opts.Type[Subscriber](func(s *Subscriber) error {
		for _, h := range hooks {
			if h != nil {
				s.hooks = append(s.hooks, h)
			}
		}
		return nil
	})
}

// WithStateRetention bounds how many finished jobs keep their state.
var WithStateRetention = opts.ForName[Subscriber, int]("retention")
