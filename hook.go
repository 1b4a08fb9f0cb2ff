package shuttle

import "context"

// Hook observes job state changes. Hooks run on the processing goroutine,
// so a slow hook delays the next job.
type Hook interface {
	OnTransition(context.Context, Transition)
}

// HookFunc adapts a function to a Hook.
type HookFunc func(context.Context, Transition)

func (f HookFunc) OnTransition(ctx context.Context, t Transition) {
	f(ctx, t)
}
