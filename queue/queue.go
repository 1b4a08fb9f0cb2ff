package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/casualjim/shuttle/pkg/uuidx"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// DefaultName is the name of the job stream, workflow id and task queue.
	DefaultName = "ads_subscriber_job_processing_queue"
	// DefaultConsumer is the durable JetStream consumer that processes jobs.
	DefaultConsumer = "ads_subscriber_job_processor"
	// DefaultMaxAttempts is the number of delivery attempts a job gets.
	DefaultMaxAttempts = 1
	// DefaultJobTimeout bounds a single job.
	DefaultJobTimeout = 10 * time.Minute
	// DefaultMaxJobsPerRun is how many jobs a workflow run processes before it
	// continues as new.
	DefaultMaxJobsPerRun = 500
)

var (
	// ErrQueueUnavailable is returned when the backing store cannot accept a job.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrProcessorRegistered is returned when a second processor is registered.
	ErrProcessorRegistered = errors.New("processor already registered")
	// ErrInvalidConcurrency is returned when concurrency is below 1.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
	// ErrNilHandler is returned when Process is called without a handler.
	ErrNilHandler = errors.New("handler is required")
)

// Handler processes one job. A returned error fails the job permanently.
type Handler func(context.Context, Job) error

// Queue is a durable FIFO of jobs with exactly one processor.
type Queue interface {
	// Enqueue stores the payload as a new job. The job is durable once Enqueue returns.
	Enqueue(context.Context, event.Payload) (Job, error)
	// Process registers the handler and starts delivering jobs to it in the
	// background until ctx is done or the queue is closed.
	Process(ctx context.Context, concurrency int, h Handler) error
	// Close stops processing and releases resources owned by the queue.
	Close() error
}

// Job wraps a payload with queue metadata.
type Job struct {
	ID          string          `json:"id"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  strfmt.DateTime `json:"enqueued_at"`
	Payload     event.Payload   `json:"payload"`
}

// NewJob creates a job for the payload with a fresh time-ordered id.
func NewJob(p event.Payload) Job {
	return Job{
		ID:          uuidx.NewString(),
		MaxAttempts: DefaultMaxAttempts,
		EnqueuedAt:  strfmt.DateTime(time.Now().UTC()),
		Payload:     p.Clone(),
	}
}

// MarshalJSON implements json.Marshaler.
func (j Job) MarshalJSON() ([]byte, error) {
	payload, err := event.Encode(j.Payload)
	if err != nil {
		return nil, err
	}
	enqueuedAt, err := j.EnqueuedAt.MarshalText()
	if err != nil {
		return nil, err
	}

	b := []byte(`{}`)
	for _, kv := range []struct {
		key   string
		value any
	}{
		{"id", j.ID},
		{"attempt", j.Attempt},
		{"max_attempts", j.MaxAttempts},
		{"enqueued_at", string(enqueuedAt)},
	} {
		if b, err = sjson.SetBytes(b, kv.key, kv.value); err != nil {
			return nil, err
		}
	}
	return sjson.SetRawBytes(b, "payload", payload)
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *Job) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("%w: malformed job envelope", event.ErrInvalidPayload)
	}
	res := gjson.ParseBytes(b)

	payload, err := event.Decode([]byte(res.Get("payload").Raw))
	if err != nil {
		return err
	}

	var enqueuedAt strfmt.DateTime
	if s := res.Get("enqueued_at").String(); s != "" {
		if err := enqueuedAt.UnmarshalText([]byte(s)); err != nil {
			return fmt.Errorf("invalid enqueued_at: %w", err)
		}
	}

	maxAttempts := int(res.Get("max_attempts").Int())
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	*j = Job{
		ID:          res.Get("id").String(),
		Attempt:     int(res.Get("attempt").Int()),
		MaxAttempts: maxAttempts,
		EnqueuedAt:  enqueuedAt,
		Payload:     payload,
	}
	return nil
}

func (j Job) logAttrs() []any {
	return []any{slogx.JobID(j.ID), slog.String("event_name", j.Payload.Name)}
}

type settings struct {
	name          string
	consumer      string
	subject       string
	taskQueue     string
	jobTimeout    time.Duration
	maxJobsPerRun int
	logger        *slog.Logger
}

// Option configures a queue.
type Option = opts.Option[settings]

var (
	// WithName overrides the stream name (JetStream) or workflow id (Temporal).
	WithName = opts.ForName[settings, string]("name")
	// WithConsumer overrides the durable JetStream consumer name.
	WithConsumer = opts.ForName[settings, string]("consumer")
	// WithSubject overrides the JetStream subject jobs are published on.
	WithSubject = opts.ForName[settings, string]("subject")
	// WithTaskQueue overrides the temporal task queue.
	WithTaskQueue = opts.ForName[settings, string]("taskQueue")
	// WithJobTimeout bounds the time a single job may take.
	WithJobTimeout = opts.ForName[settings, time.Duration]("jobTimeout")
	// WithMaxJobsPerRun bounds the history of a temporal workflow run.
	WithMaxJobsPerRun = opts.ForName[settings, int]("maxJobsPerRun")
	// WithLogger sets the logger used by the queue.
	WithLogger = opts.ForName[settings, *slog.Logger]("logger")
)

func newSettings(component string, options []opts.Option[settings]) (settings, error) {
	s := settings{
		name:          DefaultName,
		consumer:      DefaultConsumer,
		jobTimeout:    DefaultJobTimeout,
		maxJobsPerRun: DefaultMaxJobsPerRun,
	}
	if err := opts.Apply(&s, options); err != nil {
		return settings{}, err
	}
	if s.subject == "" {
		s.subject = s.name + ".jobs"
	}
	if s.taskQueue == "" {
		s.taskQueue = s.name
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slogx.LoggerName("shuttle.queue." + component))
	return s, nil
}

func validateProcess(concurrency int, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if concurrency < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, concurrency)
	}
	return nil
}

// runHandler invokes h and turns a panic into an error.
// stopOnDone calls stop when ctx is done. It returns without calling stop
// once closed is closed.
func stopOnDone(ctx context.Context, closed <-chan struct{}, stop func()) {
	select {
	case <-ctx.Done():
		stop()
	case <-closed:
	}
}

func runHandler(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, job)
}

func logOutcome(log *slog.Logger, job Job, err error) {
	if err != nil {
		log.Error("job failed", append(job.logAttrs(), slogx.Error(err))...)
		return
	}
	log.Debug("job completed", job.logAttrs()...)
}
