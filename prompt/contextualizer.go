package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultAttempts is how often a contextualization is tried before giving up.
	DefaultAttempts = 5
	// DefaultModel is used when OPENAI_DEFAULT_MODEL is not set.
	DefaultModel = openai.ChatModelGPT4oMini
)

var (
	// ErrRetriesExhausted is returned when every attempt failed.
	ErrRetriesExhausted = errors.New("contextualization retries exhausted")
	// ErrEmptyCompletion is returned when the model answered without content.
	ErrEmptyCompletion = errors.New("model returned an empty completion")
)

// Contextualizer rephrases a prompt, typically by sending it to an LLM.
type Contextualizer interface {
	Contextualize(ctx context.Context, prompt string) (string, error)
}

// ContextualizerFunc adapts a function to a Contextualizer.
type ContextualizerFunc func(ctx context.Context, prompt string) (string, error)

func (f ContextualizerFunc) Contextualize(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ModelFromEnv returns OPENAI_DEFAULT_MODEL or DefaultModel.
func ModelFromEnv() string {
	if m := os.Getenv("OPENAI_DEFAULT_MODEL"); m != "" {
		return m
	}
	return DefaultModel
}

// OpenAI contextualizes prompts with a chat completion.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a contextualizer for model. An empty model falls back to
// ModelFromEnv. The client does not retry on its own, Retry owns that policy.
func NewOpenAI(model string, options ...option.RequestOption) *OpenAI {
	if model == "" {
		model = ModelFromEnv()
	}
	options = append([]option.RequestOption{option.WithMaxRetries(0)}, options...)
	return &OpenAI{
		client: openai.NewClient(options...),
		model:  model,
	}
}

func (o *OpenAI) Contextualize(ctx context.Context, prompt string) (string, error) {
	chat, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		}),
		Model: openai.F(o.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(chat.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

// Retrying retries a Contextualizer with exponential backoff. A blank result
// counts as a failed attempt.
type Retrying struct {
	next       Contextualizer
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	log        *slog.Logger
}

var (
	// WithInitialBackoff sets the wait after the first failure.
	WithInitialBackoff = opts.ForName[Retrying, time.Duration]("backoff")
	// WithMaxBackoff caps the wait between attempts.
	WithMaxBackoff = opts.ForName[Retrying, time.Duration]("maxBackoff")
)

// Retry wraps next so it is tried up to attempts times.
func Retry(next Contextualizer, attempts int, options ...opts.Option[Retrying]) *Retrying {
	r := &Retrying{
		next:       next,
		attempts:   max(attempts, 1),
		backoff:    250 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
	if err := opts.Apply(r, options); err != nil {
		panic(err)
	}
	r.log = slog.Default().With(slogx.LoggerName("shuttle.prompt"))
	return r
}

func (r *Retrying) Contextualize(ctx context.Context, prompt string) (string, error) {
	wait := r.backoff
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.next.Contextualize(ctx, prompt)
		if err == nil {
			if out = strings.TrimSpace(out); out != "" {
				return out, nil
			}
			err = ErrEmptyCompletion
		}
		lastErr = err
		r.log.Warn("contextualization attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.attempts),
			slogx.Error(err),
		)
		if attempt == r.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrRetriesExhausted, errors.Join(ctx.Err(), lastErr))
		case <-time.After(wait):
		}
		wait = min(wait*2, r.maxBackoff)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.attempts, lastErr)
}
