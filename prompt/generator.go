package prompt

import (
	"context"

	"github.com/casualjim/shuttle/event"
	"github.com/fogfish/opts"
)

// Generator derives the invocation artifact for an event.
type Generator struct {
	agentDescription string
	contextualizer   Contextualizer
}

// NewGenerator creates a generator that contextualizes through c, retrying up
// to DefaultAttempts times.
func NewGenerator(agentDescription string, c Contextualizer, options ...opts.Option[Retrying]) *Generator {
	return &Generator{
		agentDescription: agentDescription,
		contextualizer:   Retry(c, DefaultAttempts, options...),
	}
}

// Prompt renders the contextualization prompt without calling the contextualizer.
func (g *Generator) Prompt(p event.Payload) (string, error) {
	return Render(g.agentDescription, p)
}

// Generate renders the prompt for p and contextualizes it. The result is
// trimmed and never blank.
func (g *Generator) Generate(ctx context.Context, p event.Payload) (string, error) {
	rendered, err := g.Prompt(p)
	if err != nil {
		return "", err
	}
	return g.contextualizer.Contextualize(ctx, rendered)
}
