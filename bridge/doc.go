// Package bridge delivers published events to subscribers in real time.
//
// A Client connects to a bridge endpoint and invokes one callback per named
// event. The connection string selects the transport:
//
//   - nats:// and tls:// connect to a NATS server. Events arrive on the subject
//     "<prefix>.<event>" and the pool id becomes the queue group, so only one
//     member of a pool receives each event.
//   - ws:// and wss:// connect to a WebSocket endpoint at "<prefix>/ws" with the
//     pool id as the "pool" query parameter. Frames are JSON objects of the form
//     {"event": "<name>", "data": <payload>}.
//
// Hub is an in-process bridge used by tests and examples, and Relay moves
// events from the broker stream onto the NATS bridge.
package bridge
