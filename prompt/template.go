package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/casualjim/shuttle/event"
	"github.com/goccy/go-json"
)

// ErrMissingAgentDescription is returned when no agent description is configured.
var ErrMissingAgentDescription = errors.New("agent description is not set")

const contextualizationTemplate = `You write the instruction that invokes an AI agent when something happens in one of its data sources.

The agent is described as follows:
"""
{{ .AgentDescription }}
"""

This event was just published:
- Event name: {{ .EventName }}
- Event description: {{ if .EventDescription }}{{ .EventDescription }}{{ else }}(none){{ end }}
- Event data:
{{ .EventData }}

Write a single, self-contained instruction addressed to the agent. Explain what happened using the relevant values from the event data and ask the agent to act on it within the scope of its description. Do not invent facts that are not in the event. Reply with the instruction only.`

var contextualization = template.Must(
	template.New("contextualization").Option("missingkey=error").Parse(contextualizationTemplate),
)

type templateData struct {
	AgentDescription string
	EventName        string
	EventDescription string
	EventData        string
}

// Render produces the contextualization prompt for an event. The output only
// depends on its inputs.
func Render(agentDescription string, p event.Payload) (string, error) {
	if strings.TrimSpace(agentDescription) == "" {
		return "", ErrMissingAgentDescription
	}

	data := p.Data
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode event data: %w", err)
	}

	var buf strings.Builder
	if err := contextualization.Execute(&buf, templateData{
		AgentDescription: strings.TrimSpace(agentDescription),
		EventName:        p.Name,
		EventDescription: p.Description,
		EventData:        string(b),
	}); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
