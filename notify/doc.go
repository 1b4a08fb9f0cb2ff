// Package notify fans an agent response out to notification channels.
//
// Every channel wraps the response in the same header: a UTC timestamp, the
// (truncated) description of the agent that ran, and a footer. Chat channels
// send Markdown, the email channel sends HTML converted from it.
//
// Notify calls the channels one after another. A channel that fails or panics
// is logged and recorded as false in the Report; the remaining channels are
// still called and Notify itself never fails.
package notify
