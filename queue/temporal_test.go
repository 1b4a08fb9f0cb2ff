package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func newTemporalEnv(t *testing.T, q *Temporal) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.SetTestTimeout(30 * time.Second)
	q.register(env)
	return env
}

func TestTemporal_RunsJobsInArrivalOrder(t *testing.T) {
	q, err := NewTemporal(nil)
	require.NoError(t, err)

	var seen []string
	q.handler = func(_ context.Context, job Job) error {
		seen = append(seen, job.Payload.Name)
		if job.Payload.Name == "event.1" {
			return errors.New("boom")
		}
		return nil
	}

	env := newTemporalEnv(t, q)
	env.RegisterDelayedCallback(func() {
		for i := range 3 {
			env.SignalWorkflow(SignalName, NewJob(testPayload(fmt.Sprintf("event.%d", i), nil)))
		}
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalName, NewJob(testPayload("event.3", nil)))
	}, time.Minute)
	env.RegisterDelayedCallback(env.CancelWorkflow, time.Hour)

	env.ExecuteWorkflow(WorkflowName, []Job(nil))

	require.True(t, env.IsWorkflowCompleted())
	assert.Equal(t, []string{"event.0", "event.1", "event.2", "event.3"}, seen)
}

func TestTemporal_ContinuesAsNewWithPendingJobs(t *testing.T) {
	q, err := NewTemporal(nil, WithMaxJobsPerRun(2))
	require.NoError(t, err)

	var seen []string
	q.handler = func(_ context.Context, job Job) error {
		seen = append(seen, job.Payload.Name)
		return nil
	}

	env := newTemporalEnv(t, q)
	env.RegisterDelayedCallback(func() {
		for i := range 3 {
			env.SignalWorkflow(SignalName, NewJob(testPayload(fmt.Sprintf("event.%d", i), nil)))
		}
	}, time.Second)

	env.ExecuteWorkflow(WorkflowName, []Job(nil))

	require.True(t, env.IsWorkflowCompleted())
	var can *workflow.ContinueAsNewError
	require.ErrorAs(t, env.GetWorkflowError(), &can)
	assert.Equal(t, WorkflowName, can.WorkflowType.Name)
	assert.Equal(t, []string{"event.0", "event.1"}, seen)
}

func TestTemporal_ResumesCarriedOverJobs(t *testing.T) {
	q, err := NewTemporal(nil)
	require.NoError(t, err)

	var seen []string
	q.handler = func(_ context.Context, job Job) error {
		seen = append(seen, job.Payload.Name)
		return nil
	}

	env := newTemporalEnv(t, q)
	env.RegisterDelayedCallback(env.CancelWorkflow, time.Hour)

	carried := []Job{NewJob(testPayload("carried.0", nil)), NewJob(testPayload("carried.1", nil))}
	env.ExecuteWorkflow(WorkflowName, carried)

	require.True(t, env.IsWorkflowCompleted())
	assert.Equal(t, []string{"carried.0", "carried.1"}, seen)
}

func TestTemporal_ActivityRecordsAttempt(t *testing.T) {
	q, err := NewTemporal(nil)
	require.NoError(t, err)

	var got Job
	q.handler = func(_ context.Context, job Job) error {
		got = job
		return nil
	}

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(q.processJob)

	job := NewJob(testPayload("single", map[string]any{"id": 1}))
	_, err = env.ExecuteActivity(q.processJob, job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, got.Attempt)
}

type signalRecorder struct {
	client.Client
	err      error
	calls    int
	workflow string
	opts     client.StartWorkflowOptions
	arg      any
}

func (s *signalRecorder) SignalWithStartWorkflow(_ context.Context, workflowID, signalName string, signalArg interface{}, options client.StartWorkflowOptions, wf interface{}, _ ...interface{}) (client.WorkflowRun, error) {
	s.calls++
	s.workflow, _ = wf.(string)
	s.opts = options
	s.arg = signalArg
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

func TestTemporal_Enqueue(t *testing.T) {
	rec := &signalRecorder{}
	q, err := NewTemporal(rec, WithName("orders"))
	require.NoError(t, err)

	job, err := q.Enqueue(context.Background(), testPayload("order.created", nil))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, WorkflowName, rec.workflow)
	assert.Equal(t, "orders", rec.opts.ID)
	assert.Equal(t, "orders", rec.opts.TaskQueue)
	assert.Equal(t, job, rec.arg)
}

func TestTemporal_EnqueueUnavailable(t *testing.T) {
	rec := &signalRecorder{err: errors.New("connection refused")}
	q, err := NewTemporal(rec)
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), testPayload("order.created", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestTemporal_CloseReleasesWatcher(t *testing.T) {
	q, err := NewTemporal(nil)
	require.NoError(t, err)

	q.watchers.Add(1)
	go func() {
		defer q.watchers.Done()
		stopOnDone(context.WithoutCancel(context.Background()), q.closed, q.stopWorker)
	}()

	done := make(chan struct{})
	go func() {
		assert.NoError(t, q.Close())
		assert.NoError(t, q.Close())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
}
