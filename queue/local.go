package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/casualjim/shuttle/event"
	"github.com/fogfish/opts"
)

var _ Queue = (*Local)(nil)

// Local is an in-process FIFO queue. Jobs are lost when the process exits.
type Local struct {
	settings

	mu      sync.Mutex
	pending []Job

	signal     chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	registered atomic.Bool
	workers    sync.WaitGroup
}

// NewLocal creates an in-process queue.
func NewLocal(options ...opts.Option[settings]) *Local {
	s, err := newSettings("local", options)
	if err != nil {
		panic(err)
	}
	return &Local{
		settings: s,
		signal:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Enqueue appends a job to the queue.
func (q *Local) Enqueue(_ context.Context, p event.Payload) (Job, error) {
	select {
	case <-q.closed:
		return Job{}, fmt.Errorf("%w: queue is closed", ErrQueueUnavailable)
	default:
	}

	job := NewJob(p)
	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.wake()

	q.logger.Debug("job enqueued", job.logAttrs()...)
	return job, nil
}

// Len reports the number of jobs waiting to be processed.
func (q *Local) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Process starts concurrency workers that hand jobs to h.
func (q *Local) Process(ctx context.Context, concurrency int, h Handler) error {
	if err := validateProcess(concurrency, h); err != nil {
		return err
	}
	if !q.registered.CompareAndSwap(false, true) {
		return ErrProcessorRegistered
	}

	for range concurrency {
		q.workers.Add(1)
		go q.work(ctx, h)
	}
	return nil
}

// Close stops the workers after their current job and rejects new jobs.
func (q *Local) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	q.workers.Wait()
	return nil
}

func (q *Local) work(ctx context.Context, h Handler) {
	defer q.workers.Done()
	for {
		job, ok := q.next()
		if !ok {
			select {
			case <-q.signal:
				continue
			case <-q.closed:
				return
			case <-ctx.Done():
				return
			}
		}

		job.Attempt++
		logOutcome(q.logger, job, runHandler(ctx, h, job))

		select {
		case <-q.closed:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (q *Local) next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Job{}, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.wake()
	}
	return job, true
}

func (q *Local) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
