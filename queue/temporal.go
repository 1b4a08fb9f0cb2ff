package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/casualjim/shuttle/event"
	"github.com/fogfish/opts"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const (
	// WorkflowName is the registered name of the job processing workflow.
	WorkflowName = "ads_subscriber_job_queue"
	// ActivityName is the registered name of the activity that runs one job.
	ActivityName = "ads_subscriber_process_job"
	// SignalName is the signal that delivers a job to the workflow.
	SignalName = "ads_subscriber_job_enqueued"
)

var _ Queue = (*Temporal)(nil)

// Temporal is a durable queue backed by a single long-running workflow. Jobs
// are delivered as signals and run one after another as activities.
type Temporal struct {
	settings

	client     client.Client
	registered atomic.Bool
	handler    Handler

	mu        sync.Mutex
	worker    worker.Worker
	watchers  sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// NewTemporal creates a queue on the given client. The caller owns the client.
func NewTemporal(c client.Client, options ...opts.Option[settings]) (*Temporal, error) {
	s, err := newSettings("temporal", options)
	if err != nil {
		return nil, err
	}
	return &Temporal{settings: s, client: c, closed: make(chan struct{})}, nil
}

// Enqueue signals the queue workflow, starting it when it is not running.
func (q *Temporal) Enqueue(ctx context.Context, p event.Payload) (Job, error) {
	job := NewJob(p)
	_, err := q.client.SignalWithStartWorkflow(ctx, q.name, SignalName, job, client.StartWorkflowOptions{
		ID:                    q.name,
		TaskQueue:             q.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, WorkflowName, []Job(nil))
	if err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	q.logger.Debug("job enqueued", job.logAttrs()...)
	return job, nil
}

// Process starts a worker for the queue's task queue. The workflow itself
// runs jobs one at a time, concurrency only sizes the worker.
func (q *Temporal) Process(ctx context.Context, concurrency int, h Handler) error {
	if err := validateProcess(concurrency, h); err != nil {
		return err
	}
	if !q.registered.CompareAndSwap(false, true) {
		return ErrProcessorRegistered
	}
	q.handler = h

	w := worker.New(q.client, q.taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: concurrency,
	})
	q.register(w)
	if err := w.Start(); err != nil {
		q.registered.Store(false)
		return fmt.Errorf("%w: start worker: %w", ErrQueueUnavailable, err)
	}

	q.mu.Lock()
	q.worker = w
	q.mu.Unlock()

	q.watchers.Add(1)
	go func() {
		defer q.watchers.Done()
		stopOnDone(ctx, q.closed, q.stopWorker)
	}()
	return nil
}

// Close stops the worker. Pending jobs stay in the workflow.
func (q *Temporal) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	q.stopWorker()
	q.watchers.Wait()
	return nil
}

func (q *Temporal) stopWorker() {
	q.mu.Lock()
	w := q.worker
	q.worker = nil
	q.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

type registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

func (q *Temporal) register(r registry) {
	r.RegisterWorkflowWithOptions(q.run, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(q.processJob, activity.RegisterOptions{Name: ActivityName})
}

// run is the queue workflow. pending carries jobs over a continue-as-new.
func (q *Temporal) run(ctx workflow.Context, pending []Job) error {
	log := workflow.GetLogger(ctx)
	jobs := workflow.GetSignalChannel(ctx, SignalName)
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: q.jobTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: DefaultMaxAttempts,
		},
	})

	drain := func() {
		for {
			var job Job
			if !jobs.ReceiveAsync(&job) {
				return
			}
			pending = append(pending, job)
		}
	}

	processed := 0
	for {
		drain()
		if len(pending) == 0 {
			cancelled := false
			sel := workflow.NewSelector(ctx)
			sel.AddReceive(jobs, func(c workflow.ReceiveChannel, _ bool) {
				var job Job
				c.Receive(ctx, &job)
				pending = append(pending, job)
			})
			sel.AddReceive(ctx.Done(), func(workflow.ReceiveChannel, bool) {
				cancelled = true
			})
			sel.Select(ctx)
			if cancelled {
				return ctx.Err()
			}
			continue
		}

		job := pending[0]
		pending = pending[1:]
		if err := workflow.ExecuteActivity(actx, ActivityName, job).Get(ctx, nil); err != nil {
			log.Error("job failed", "job_id", job.ID, "event_name", job.Payload.Name, "error", err)
		} else {
			log.Debug("job completed", "job_id", job.ID, "event_name", job.Payload.Name)
		}

		processed++
		if processed >= q.maxJobsPerRun {
			drain()
			return workflow.NewContinueAsNewError(ctx, WorkflowName, pending)
		}
	}
}

func (q *Temporal) processJob(ctx context.Context, job Job) error {
	job.Attempt = int(activity.GetInfo(ctx).Attempt)
	if err := runHandler(ctx, q.handler, job); err != nil {
		return temporal.NewNonRetryableApplicationError(err.Error(), "JobFailed", err)
	}
	return nil
}
