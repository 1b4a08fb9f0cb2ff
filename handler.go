package shuttle

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/casualjim/shuttle/event"
)

// SyncFunc is an agent that answers on the calling goroutine.
type SyncFunc func(prompt string, payload event.Payload) (string, error)

// AsyncFunc is an agent that waits on external work and honours ctx.
type AsyncFunc func(ctx context.Context, prompt string, payload event.Payload) (string, error)

// HandlerKind tells the two agent handler variants apart.
type HandlerKind int

const (
	KindNone HandlerKind = iota
	KindSync
	KindAsync
)

func (k HandlerKind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	default:
		return "none"
	}
}

// AgentHandler is either a SyncFunc or an AsyncFunc. Build it with Sync or Async.
type AgentHandler struct {
	kind  HandlerKind
	sync  SyncFunc
	async AsyncFunc
}

// Sync wraps a synchronous agent.
func Sync(fn SyncFunc) AgentHandler {
	if fn == nil {
		return AgentHandler{}
	}
	return AgentHandler{kind: KindSync, sync: fn}
}

// Async wraps a context aware agent.
func Async(fn AsyncFunc) AgentHandler {
	if fn == nil {
		return AgentHandler{}
	}
	return AgentHandler{kind: KindAsync, async: fn}
}

// Kind reports which variant h holds.
func (h AgentHandler) Kind() HandlerKind { return h.kind }

// IsZero reports whether h holds no function.
func (h AgentHandler) IsZero() bool { return h.kind == KindNone }

// Invoke runs the agent with the invocation prompt and the event. A panic is
// returned as an error.
func (h AgentHandler) Invoke(ctx context.Context, prompt string, payload event.Payload) (response string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent handler panicked: %v\n%s", r, debug.Stack())
		}
	}()

	switch h.kind {
	case KindSync:
		return h.sync(prompt, payload)
	case KindAsync:
		return h.async(ctx, prompt, payload)
	default:
		return "", ErrNoHandlerConfigured
	}
}

// Invocation is what a sink receives for every job.
type Invocation struct {
	Prompt  string        `json:"ads_event_contextualization_prompt"`
	Payload event.Payload `json:"ads_event_payload"`
}

// Sink receives invocations for agents that run outside of this process.
type Sink func(context.Context, Invocation) error
