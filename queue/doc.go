// Package queue stores event payloads as jobs until a processor picks them up.
//
// A Queue has a single processor. Jobs are handed to it in the order they were
// enqueued, and each job gets exactly one attempt: when the handler returns an
// error the job is terminated and never delivered again.
//
// Backends:
//
//   - JetStream: a NATS JetStream work-queue stream with file storage and a
//     durable consumer. Jobs survive process restarts and the stream can be
//     shared by several processes.
//   - Temporal: a long-running workflow per subscriber that receives jobs as
//     signals and runs each one as a single-attempt activity.
//   - Local: an in-process FIFO for tests and examples. It is not durable.
//
// Usage:
//
//	q, err := queue.NewJetStream(nc)
//	if err != nil {
//	    return err
//	}
//	defer q.Close()
//
//	if err := q.Process(ctx, 1, func(ctx context.Context, job queue.Job) error {
//	    return handle(ctx, job.Payload)
//	}); err != nil {
//	    return err
//	}
//
//	job, err := q.Enqueue(ctx, payload)
package queue
