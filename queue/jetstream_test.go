package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJetStreamQueue(t *testing.T) (*JetStream, *nats.Conn) {
	t.Helper()
	srv := runJetStreamServer(t)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	q, err := NewJetStream(testContext(t), nc, WithJobTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, nc
}

func TestJetStream_CreatesDurableWorkQueue(t *testing.T) {
	q, nc := newJetStreamQueue(t)
	ctx := testContext(t)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	stream, err := js.Stream(ctx, DefaultName)
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, jetstream.WorkQueuePolicy, info.Config.Retention)
	assert.Equal(t, jetstream.FileStorage, info.Config.Storage)
	assert.Equal(t, []string{q.subject}, info.Config.Subjects)
}

func TestJetStream_EnqueueIsDurableBeforeProcessing(t *testing.T) {
	q, nc := newJetStreamQueue(t)
	ctx := testContext(t)

	for i := range 3 {
		_, err := q.Enqueue(ctx, testPayload(fmt.Sprintf("event.%d", i), map[string]any{"n": i}))
		require.NoError(t, err)
	}

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	stream, err := js.Stream(ctx, DefaultName)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)
}

func TestJetStream_ProcessesInOrder(t *testing.T) {
	q, _ := newJetStreamQueue(t)
	ctx := testContext(t)

	const n = 10
	for i := range n {
		_, err := q.Enqueue(ctx, testPayload(fmt.Sprintf("event.%02d", i), map[string]any{"n": i}))
		require.NoError(t, err)
	}

	rec := newRecorder(n)
	var inFlight, overlaps atomic.Int32
	require.NoError(t, q.Process(ctx, 1, func(_ context.Context, job Job) error {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer inFlight.Add(-1)
		rec.record(job)
		return nil
	}))

	rec.wait(t, 10*time.Second)

	want := make([]string, n)
	for i := range n {
		want[i] = fmt.Sprintf("event.%02d", i)
	}
	assert.Equal(t, want, rec.names())
	assert.Zero(t, overlaps.Load())
	for _, job := range rec.jobs {
		assert.Equal(t, 1, job.Attempt)
		assert.Equal(t, 1, job.MaxAttempts)
	}
}

func TestJetStream_FailedJobIsTerminated(t *testing.T) {
	q, _ := newJetStreamQueue(t)
	ctx := testContext(t)

	var badCalls atomic.Int32
	rec := newRecorder(2)
	require.NoError(t, q.Process(ctx, 1, func(_ context.Context, job Job) error {
		rec.record(job)
		if job.Payload.Name == "bad" {
			badCalls.Add(1)
			return errors.New("boom")
		}
		return nil
	}))

	_, err := q.Enqueue(ctx, testPayload("bad", nil))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, testPayload("good", nil))
	require.NoError(t, err)

	rec.wait(t, 10*time.Second)
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int32(1), badCalls.Load())
	assert.Equal(t, []string{"bad", "good"}, rec.names())

	info, err := q.stream.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.State.Msgs)
}

func TestJetStream_SingleProcessor(t *testing.T) {
	q, _ := newJetStreamQueue(t)
	ctx := testContext(t)
	noop := func(context.Context, Job) error { return nil }

	assert.ErrorIs(t, q.Process(ctx, 0, noop), ErrInvalidConcurrency)
	require.NoError(t, q.Process(ctx, 1, noop))
	assert.ErrorIs(t, q.Process(ctx, 1, noop), ErrProcessorRegistered)
}

func TestJetStream_CloseWithUncancelledContext(t *testing.T) {
	q, _ := newJetStreamQueue(t)
	require.NoError(t, q.Process(context.WithoutCancel(testContext(t)), 1, func(context.Context, Job) error { return nil }))

	done := make(chan struct{})
	go func() {
		_ = q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
}

func TestJetStream_EnqueueWhenDisconnected(t *testing.T) {
	q, nc := newJetStreamQueue(t)
	nc.Close()

	_, err := q.Enqueue(context.Background(), testPayload("lost", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestNewJetStream_Unavailable(t *testing.T) {
	srv := runJetStreamServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = NewJetStream(ctx, nc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}
