package shuttle

import "errors"

var (
	// ErrPromptGenerationFailed marks a job whose invocation prompt could not be derived.
	ErrPromptGenerationFailed = errors.New("invocation prompt generation failed")
	// ErrAgentInvocationFailed marks a job whose agent handler returned an error or panicked.
	ErrAgentInvocationFailed = errors.New("agent invocation failed")
	// ErrEmitFailed marks a job the sink did not accept.
	ErrEmitFailed = errors.New("emitting invocation failed")
	// ErrNoHandlerConfigured is returned by Start when neither an agent nor a sink is set.
	ErrNoHandlerConfigured = errors.New("no agent handler configured")
	// ErrHandlerAlreadyConfigured is returned when more than one handler is configured.
	ErrHandlerAlreadyConfigured = errors.New("agent handler already configured")
	// ErrNoConnectors is returned by Start when there is nothing to listen on.
	ErrNoConnectors = errors.New("no data connectors configured")
	// ErrNoQueue is returned when the subscriber has no job queue.
	ErrNoQueue = errors.New("no job queue configured")
	// ErrAlreadyStarted is returned by Start on a running subscriber.
	ErrAlreadyStarted = errors.New("subscriber already started")
)
