// Package shuttle connects event sources to an agent.
//
// A Subscriber listens on one or more data connectors (bridge clients bound to
// an event name), puts every inbound event on a durable job queue and processes
// the jobs strictly one at a time. For each job it derives an invocation prompt
// from the event and the agent description, invokes the configured agent
// handler and sends the handler's response through the notification channels.
//
//	sub, err := shuttle.New(
//		shuttle.WithAgentDescription("Watches deployments and rolls back broken builds"),
//		shuttle.WithConnectors(connector),
//		shuttle.WithQueue(q),
//		shuttle.WithChannels(slack),
//		shuttle.WithAgent(shuttle.Sync(func(prompt string, p event.Payload) (string, error) {
//			return runAgent(prompt)
//		})),
//	)
//	if err != nil {
//		return err
//	}
//	return sub.Run(ctx)
//
// Every job moves through the states Queued, InvocationPromptPending,
// AgentInvoking, Notifying and Done. A job whose prompt cannot be generated or
// whose handler fails ends in Failed and is not retried. Notification failures
// never fail a job.
//
// Flows orchestrated elsewhere use WithSink instead of WithAgent: the rendered
// prompt and the payload are handed to the sink and the job is done.
package shuttle
