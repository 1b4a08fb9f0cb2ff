// Package types holds small value types shared by agents and templates.
package types

import (
	"maps"

	"github.com/casualjim/shuttle/event"
	"github.com/goccy/go-json"
)

// ContextVars are the variables available to agent instruction templates.
//
// FromPayload exposes an event as
//
//	{{ .event_name }}, {{ .event_description }} and {{ .event_data.<key> }}
//
// ContextVars is not safe for concurrent modification.
type ContextVars map[string]any

// FromPayload creates the variables for an event. The event data is copied.
func FromPayload(p event.Payload) ContextVars {
	c := p.Clone()
	return ContextVars{
		"event_name":        c.Name,
		"event_description": c.Description,
		"event_data":        c.Data,
	}
}

// With returns a copy of cv with the entries of other added, other wins on conflicts.
func (cv ContextVars) With(other ContextVars) ContextVars {
	out := make(ContextVars, len(cv)+len(other))
	maps.Copy(out, cv)
	maps.Copy(out, other)
	return out
}

// String returns the JSON representation of the variables, or an empty
// string when they cannot be marshaled.
func (cv ContextVars) String() string {
	jsonData, err := json.Marshal(cv)
	if err != nil {
		return ""
	}
	return string(jsonData)
}
