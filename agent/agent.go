// Package agent is an agent handler backed by an OpenAI chat model.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/casualjim/shuttle"
	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/casualjim/shuttle/prompt"
	"github.com/casualjim/shuttle/types"
	"github.com/fogfish/opts"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultInstructions is the system prompt when none is configured.
const DefaultInstructions = `You are an operations agent that is invoked whenever an event is published to one of your data sources.
Carry out the instruction you receive. Reply with a short Markdown summary of what you found and what you did.`

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("agent produced an empty response")

// Agent answers invocation prompts with a chat completion.
type Agent struct {
	name           string
	model          string
	instructions   string
	temperature    float64
	stream         bool
	requestOptions []option.RequestOption

	client *openai.Client
	log    *slog.Logger
}

// Option configures an Agent.
type Option = opts.Option[Agent]

var (
	Name         = opts.ForName[Agent, string]("name")
	Model        = opts.ForName[Agent, string]("model")
	Instructions = opts.ForName[Agent, string]("instructions")
	Temperature  = opts.ForName[Agent, float64]("temperature")
	Streaming    = opts.ForName[Agent, bool]("stream")
)

// RequestOptions configures the OpenAI client, for example with a base URL or API key.
func RequestOptions(first option.RequestOption, extra ...option.RequestOption) opts.Option[Agent] {
	return opts.Type[Agent](func(a *Agent) error {
		a.requestOptions = append(a.requestOptions, first)
		a.requestOptions = append(a.requestOptions, extra...)
		return nil
	})
}

// New creates an agent. It panics when an option fails.
func New(options ...opts.Option[Agent]) *Agent {
	a := &Agent{
		name:         "default",
		instructions: DefaultInstructions,
		temperature:  0.1,
	}
	if err := opts.Apply(a, options); err != nil {
		panic(err)
	}
	if a.model == "" {
		a.model = prompt.ModelFromEnv()
	}
	// A failed invocation fails the job, so the client makes a single attempt.
	a.client = openai.NewClient(append([]option.RequestOption{option.WithMaxRetries(0)}, a.requestOptions...)...)
	a.log = slog.Default().With(slogx.LoggerName("shuttle.agent"), slog.String("agent", a.name))
	return a
}

func (a *Agent) Name() string         { return a.name }
func (a *Agent) Model() string        { return a.model }
func (a *Agent) Instructions() string { return a.instructions }

// RenderInstructions renders the instructions with the provided context variables.
func (a *Agent) RenderInstructions(cv types.ContextVars) (string, error) {
	if !strings.Contains(a.instructions, "{{") {
		return a.instructions, nil
	}
	tmpl, err := template.New(a.name).Option("missingkey=error").Parse(a.instructions)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, cv); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Handler binds the agent to a subscriber.
func (a *Agent) Handler() shuttle.AgentHandler {
	return shuttle.Async(a.Run)
}

// Run sends the invocation prompt to the model and returns its answer.
func (a *Agent) Run(ctx context.Context, invocation string, p event.Payload) (string, error) {
	instructions, err := a.RenderInstructions(types.FromPayload(p))
	if err != nil {
		return "", fmt.Errorf("render instructions: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(instructions),
			openai.UserMessage(invocation),
		}),
		Model:       openai.F(a.model),
		N:           openai.Int(1),
		Temperature: openai.Float(a.temperature),
	}

	var content string
	if a.stream {
		content, err = a.runStream(ctx, params)
	} else {
		content, err = a.runOnce(ctx, params)
	}
	if err != nil {
		return "", err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	a.log.Debug("agent answered", slog.String("event_name", p.Name), slogx.Truncate("response", content, 256))
	return content, nil
}

func (a *Agent) runOnce(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	chat, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return chat.Choices[0].Message.Content, nil
}

func (a *Agent) runStream(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	strm := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer strm.Close()

	var acc openai.ChatCompletionAccumulator
	for strm.Next() {
		acc.AddChunk(strm.Current())
	}
	if err := strm.Err(); err != nil {
		return "", fmt.Errorf("chat completion stream failed: %w", err)
	}
	if len(acc.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return acc.Choices[0].Message.Content, nil
}
