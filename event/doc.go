// Package event defines the payload that flows through the whole pipeline: a
// producer publishes it, the bridge delivers it, the queue stores it and the
// subscriber hands it to an agent.
//
// The wire form is a JSON object with exactly three keys:
//
//	{
//	  "event_name": "order.created",
//	  "event_description": "a new order was placed",
//	  "event_data": {"id": 42}
//	}
//
// Decode rejects anything that is not valid JSON or misses one of the keys.
// Those rejections wrap ErrInvalidPayload so transports can tell a malformed
// message from a processing failure.
package event
