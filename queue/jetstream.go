package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var _ Queue = (*JetStream)(nil)

// JetStream is a durable queue backed by a NATS JetStream work-queue stream.
type JetStream struct {
	settings

	nc         *nats.Conn
	js         jetstream.JetStream
	stream     jetstream.Stream
	registered atomic.Bool

	mu        sync.Mutex
	iter      jetstream.MessagesContext
	workers   sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// NewJetStream ensures the job stream exists on the connected server. The
// caller owns nc and closes it after Close.
func NewJetStream(ctx context.Context, nc *nats.Conn, options ...opts.Option[settings]) (*JetStream, error) {
	s, err := newSettings("jetstream", options)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        s.name,
		Description: "subscriber jobs awaiting processing",
		Subjects:    []string{s.subject},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create stream %s: %w", ErrQueueUnavailable, s.name, err)
	}

	return &JetStream{
		settings: s,
		nc:       nc,
		js:       js,
		stream:   stream,
		closed:   make(chan struct{}),
	}, nil
}

// Enqueue publishes the job and waits for the server to persist it.
func (q *JetStream) Enqueue(ctx context.Context, p event.Payload) (Job, error) {
	if !q.nc.IsConnected() {
		return Job{}, fmt.Errorf("%w: not connected to nats", ErrQueueUnavailable)
	}

	job := NewJob(p)
	data, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("failed to encode job: %w", err)
	}

	ack, err := q.js.Publish(ctx, q.subject, data, jetstream.WithMsgID(job.ID))
	if err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	q.logger.Debug("job enqueued", append(job.logAttrs(), "stream", ack.Stream, "seq", ack.Sequence)...)
	return job, nil
}

// Process attaches the durable consumer and hands messages to h. At most
// concurrency jobs are unacknowledged at any time.
func (q *JetStream) Process(ctx context.Context, concurrency int, h Handler) error {
	if err := validateProcess(concurrency, h); err != nil {
		return err
	}
	if !q.registered.CompareAndSwap(false, true) {
		return ErrProcessorRegistered
	}

	cons, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       q.consumer,
		FilterSubject: q.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.jobTimeout,
		MaxDeliver:    DefaultMaxAttempts,
		MaxAckPending: concurrency,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		q.registered.Store(false)
		return fmt.Errorf("%w: create consumer %s: %w", ErrQueueUnavailable, q.consumer, err)
	}

	iter, err := cons.Messages(jetstream.PullMaxMessages(concurrency))
	if err != nil {
		q.registered.Store(false)
		return fmt.Errorf("%w: consume %s: %w", ErrQueueUnavailable, q.consumer, err)
	}

	q.mu.Lock()
	q.iter = iter
	q.mu.Unlock()

	q.workers.Add(2)
	go q.consume(ctx, iter, concurrency, h)
	go func() {
		defer q.workers.Done()
		stopOnDone(ctx, q.closed, iter.Stop)
	}()
	return nil
}

// Close stops consuming and waits for running jobs to finish.
func (q *JetStream) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	q.mu.Lock()
	iter := q.iter
	q.mu.Unlock()
	if iter != nil {
		iter.Stop()
	}
	q.workers.Wait()
	return nil
}

func (q *JetStream) consume(ctx context.Context, iter jetstream.MessagesContext, concurrency int, h Handler) {
	defer q.workers.Done()

	slots := make(chan struct{}, concurrency)
	var running sync.WaitGroup
	defer running.Wait()

	for {
		msg, err := iter.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || errors.Is(err, nats.ErrConnectionClosed) {
				return
			}
			q.logger.Warn("failed to fetch job", slogx.Error(err))
			continue
		}

		slots <- struct{}{}
		running.Add(1)
		go func() {
			defer func() {
				<-slots
				running.Done()
			}()
			q.handle(ctx, msg, h)
		}()
	}
}

func (q *JetStream) handle(ctx context.Context, msg jetstream.Msg, h Handler) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		q.logger.Error("dropping undecodable job", slogx.Error(err))
		if terr := msg.Term(); terr != nil {
			q.logger.Error("failed to terminate job", slogx.Error(terr))
		}
		return
	}
	if md, err := msg.Metadata(); err == nil {
		job.Attempt = int(md.NumDelivered)
	}

	jctx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()

	err := runHandler(jctx, h, job)
	logOutcome(q.logger, job, err)
	if err != nil {
		if terr := msg.Term(); terr != nil {
			q.logger.Error("failed to terminate job", append(job.logAttrs(), slogx.Error(terr))...)
		}
		return
	}
	if aerr := msg.Ack(); aerr != nil {
		q.logger.Error("failed to acknowledge job", append(job.logAttrs(), slogx.Error(aerr))...)
	}
}
