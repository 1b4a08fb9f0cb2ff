package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
)

// recorder collects the jobs a handler saw, in order.
type recorder struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
	want int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) record(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	if len(r.jobs) == r.want {
		close(r.done)
	}
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		names = append(names, j.Payload.Name)
	}
	return names
}

func (r *recorder) wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for %d jobs, got %v", r.want, r.names())
	}
}

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()
	sopts := natsserver.DefaultTestOptions
	sopts.Port = -1
	sopts.JetStream = true
	sopts.StoreDir = t.TempDir()
	s := natsserver.RunServer(&sopts)
	t.Cleanup(s.Shutdown)
	return s
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
