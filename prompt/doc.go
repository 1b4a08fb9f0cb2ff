// Package prompt turns an event into the instruction an agent is invoked with.
//
// The contextualization prompt is rendered from a template that combines the
// agent description with the event. A Contextualizer, usually an LLM, then
// rephrases it as a natural instruction. Generator wires both together and
// retries the contextualization a fixed number of times.
package prompt
