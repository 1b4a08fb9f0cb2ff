package shuttle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/internal/registry"
	"github.com/casualjim/shuttle/notify"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/casualjim/shuttle/prompt"
	"github.com/casualjim/shuttle/queue"
	"github.com/fogfish/opts"
)

const (
	// Concurrency is the number of jobs a subscriber processes at a time.
	Concurrency = 1
	// DefaultStateRetention is the number of finished jobs whose state is kept.
	DefaultStateRetention = 1024
	// DefaultStopTimeout bounds the disconnect in Run after the context is done.
	DefaultStopTimeout = 10 * time.Second
)

// Subscriber receives events from its data connectors and runs the agent for
// each of them, one job at a time.
type Subscriber struct {
	agentDescription string
	connectors       []*DataConnector
	queue            queue.Queue
	channels         []notify.Channel
	handler          AgentHandler
	sink             Sink
	contextualizer   prompt.Contextualizer
	retry            []opts.Option[prompt.Retrying]
	hooks            []Hook
	retention        int

	generator *prompt.Generator
	states    registry.Registry[JobState]
	log       *slog.Logger

	// finished holds recently finished job ids, oldest first. Only the last
	// retention of them keep their state.
	finishedMu sync.Mutex
	finished   []string

	mu         sync.Mutex
	started    bool
	processing bool
}

// New validates the configuration and creates a subscriber. Connectors and the
// handler are checked by Start.
func New(options ...opts.Option[Subscriber]) (*Subscriber, error) {
	s := &Subscriber{retention: DefaultStateRetention}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}

	var errs []error
	if strings.TrimSpace(s.agentDescription) == "" {
		errs = append(errs, prompt.ErrMissingAgentDescription)
	}
	if s.queue == nil {
		errs = append(errs, ErrNoQueue)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if s.contextualizer == nil {
		s.contextualizer = prompt.NewOpenAI("")
	}
	if s.retention < 1 {
		s.retention = DefaultStateRetention
	}
	s.generator = prompt.NewGenerator(s.agentDescription, s.contextualizer, s.retry...)
	s.states = registry.New[JobState]()
	s.log = slog.Default().With(slogx.LoggerName("shuttle.subscriber"))
	return s, nil
}

// Start registers the job processor and connects every data connector. When
// a connector fails all connectors are disconnected and the error is returned.
// Jobs run on a context detached from ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if s.handler.IsZero() && s.sink == nil {
		return ErrNoHandlerConfigured
	}
	if len(s.connectors) == 0 {
		return ErrNoConnectors
	}

	if !s.processing {
		if err := s.queue.Process(context.WithoutCancel(ctx), Concurrency, s.process); err != nil {
			return fmt.Errorf("register job processor: %w", err)
		}
		s.processing = true
	}

	for _, c := range s.connectors {
		if err := s.connect(ctx, c); err != nil {
			s.log.Error("failed to start data connector", slog.String("connector", c.Name()), slogx.Error(err))
			if derr := s.disconnectAll(ctx); derr != nil {
				s.log.Warn("failed to disconnect data connectors", slogx.Error(derr))
			}
			return err
		}
	}

	s.started = true
	s.log.Info("subscriber started",
		slog.Int("connectors", len(s.connectors)),
		slog.Int("channels", len(s.channels)),
		slog.String("handler", s.handlerKind()),
	)
	return nil
}

func (s *Subscriber) connect(ctx context.Context, c *DataConnector) error {
	if err := c.Client().Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", c.Name(), err)
	}
	if err := c.Client().OnEvent(c.Event(), s.inbound(c)); err != nil {
		return fmt.Errorf("listen for %s on %s: %w", c.Event(), c.Name(), err)
	}
	s.log.Info("listening for events", slog.String("connector", c.Name()), slog.String("event", c.Event()))
	return nil
}

// Stop disconnects every data connector. Jobs in flight are neither cancelled
// nor awaited and the queue keeps running.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.disconnectAll(ctx)
	s.started = false
	s.log.Info("subscriber stopped")
	return err
}

// disconnectAll disconnects every client, including those that are currently
// reconnecting and report themselves as disconnected.
func (s *Subscriber) disconnectAll(ctx context.Context) error {
	var errs []error
	for _, c := range s.connectors {
		if err := c.Client().Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Run starts the subscriber, waits for ctx to be done and stops it.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultStopTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Connectors returns the data connectors of the subscriber.
func (s *Subscriber) Connectors() []*DataConnector {
	return append([]*DataConnector(nil), s.connectors...)
}

// Started reports whether the subscriber is listening for events.
func (s *Subscriber) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// State returns the last known state of a job.
func (s *Subscriber) State(jobID string) (JobState, bool) {
	return s.states.Get(jobID)
}

func (s *Subscriber) handlerKind() string {
	if s.sink != nil {
		return "sink"
	}
	return s.handler.Kind().String()
}

// inbound enqueues the events a connector delivers. It never blocks the
// transport on failures, undecodable events are dropped.
func (s *Subscriber) inbound(c *DataConnector) func(context.Context, []byte) {
	log := s.log.With(slog.String("connector", c.Name()), slog.String("event", c.Event()))
	return func(ctx context.Context, data []byte) {
		if len(bytes.TrimSpace(data)) == 0 {
			log.Debug("ignoring empty message")
			return
		}
		payload, err := event.Decode(data)
		if err != nil {
			log.Warn("dropping undecodable event", slogx.Error(err), slogx.Truncate("data", string(data), 256))
			return
		}
		job, err := s.queue.Enqueue(ctx, payload)
		if err != nil {
			log.Error("failed to enqueue event", slog.String("event_name", payload.Name), slogx.Error(err))
			return
		}
		s.markQueued(job.ID)
		log.Info("event enqueued", slogx.JobID(job.ID), slog.String("event_name", payload.Name))
	}
}

// process runs one job through the state machine. A returned error fails the
// job in the queue.
func (s *Subscriber) process(ctx context.Context, job queue.Job) error {
	log := s.log.With(slogx.JobID(job.ID), slog.String("event_name", job.Payload.Name))
	s.transition(ctx, job, StateQueued, StateInvocationPromptPending, nil)

	if s.sink != nil {
		return s.emit(ctx, log, job)
	}

	artifact, err := s.generator.Generate(ctx, job.Payload)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPromptGenerationFailed, err)
		s.transition(ctx, job, StateInvocationPromptPending, StateFailed, err)
		return err
	}
	log.Debug("invocation prompt generated", slogx.Truncate("prompt", artifact, 512))
	s.transition(ctx, job, StateInvocationPromptPending, StateAgentInvoking, nil)

	response, err := s.handler.Invoke(ctx, artifact, job.Payload.Clone())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAgentInvocationFailed, err)
		s.transition(ctx, job, StateAgentInvoking, StateFailed, err)
		return err
	}
	log.Debug("agent responded", slogx.Truncate("response", response, 512))
	s.transition(ctx, job, StateAgentInvoking, StateNotifying, nil)

	report := notify.Notify(ctx, s.channels, response)
	if failed := report.Failed(); len(failed) > 0 {
		log.Warn("some notifications failed", slog.Any("channels", failed), slog.Int("total", report.Len()))
	}
	s.transition(ctx, job, StateNotifying, StateDone, nil)
	return nil
}

func (s *Subscriber) emit(ctx context.Context, log *slog.Logger, job queue.Job) error {
	rendered, err := s.generator.Prompt(job.Payload)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPromptGenerationFailed, err)
		s.transition(ctx, job, StateInvocationPromptPending, StateFailed, err)
		return err
	}
	if err := s.runSink(ctx, Invocation{Prompt: rendered, Payload: job.Payload.Clone()}); err != nil {
		err = fmt.Errorf("%w: %w", ErrEmitFailed, err)
		s.transition(ctx, job, StateInvocationPromptPending, StateFailed, err)
		return err
	}
	log.Debug("invocation emitted")
	s.transition(ctx, job, StateInvocationPromptPending, StateDone, nil)
	return nil
}

func (s *Subscriber) runSink(ctx context.Context, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.sink(ctx, inv)
}

func (s *Subscriber) transition(ctx context.Context, job queue.Job, from, to JobState, cause error) {
	if !from.CanTransition(to) {
		s.log.Error("invalid job state transition", slogx.JobID(job.ID), slog.String("from", from.String()), slog.String("to", to.String()))
	}
	s.states.Add(job.ID, to)
	if to.Terminal() {
		s.retire(job.ID)
	}

	t := Transition{
		JobID:     job.ID,
		EventName: job.Payload.Name,
		From:      from,
		To:        to,
		Err:       cause,
		At:        time.Now().UTC(),
	}
	if cause != nil {
		s.log.Error("job failed", slogx.JobID(job.ID), slog.String("from", from.String()), slogx.Error(cause))
	} else {
		s.log.Debug("job state changed", slogx.JobID(job.ID), slog.String("from", from.String()), slog.String("to", to.String()))
	}
	for _, h := range s.hooks {
		s.callHook(ctx, h, t)
	}
}

func (s *Subscriber) callHook(ctx context.Context, h Hook, t Transition) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job hook panicked", slogx.JobID(t.JobID), slog.Any("panic", r))
		}
	}()
	h.OnTransition(ctx, t)
}

// markQueued records a freshly enqueued job. The processor may already have
// picked it up, or even finished and retired it, before Enqueue returned.
func (s *Subscriber) markQueued(jobID string) {
	s.finishedMu.Lock()
	defer s.finishedMu.Unlock()

	if slices.Contains(s.finished, jobID) {
		return
	}
	s.states.GetOrAdd(jobID, func() JobState { return StateQueued })
}

// retire forgets the state of the oldest finished jobs once more than
// retention finished. Their ids are remembered for another retention jobs.
func (s *Subscriber) retire(jobID string) {
	s.finishedMu.Lock()
	defer s.finishedMu.Unlock()

	s.finished = append(s.finished, jobID)
	if evict := len(s.finished) - s.retention - 1; evict >= 0 {
		s.states.Del(s.finished[evict])
	}
	if excess := len(s.finished) - 2*s.retention; excess > 0 {
		s.finished = append([]string(nil), s.finished[excess:]...)
	}
}
