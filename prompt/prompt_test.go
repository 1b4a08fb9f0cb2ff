package prompt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/shuttle/event"
	"github.com/goccy/go-json"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var deployFailed = event.New("deploy.failed", "CI pipeline", map[string]any{"build": 101, "branch": "main"})

func TestRender(t *testing.T) {
	out, err := Render("  Rolls back broken deployments  ", deployFailed)
	require.NoError(t, err)

	assert.Contains(t, out, "Rolls back broken deployments\n")
	assert.Contains(t, out, "- Event name: deploy.failed")
	assert.Contains(t, out, "- Event description: CI pipeline")
	assert.Contains(t, out, `"build": 101`)
	assert.Contains(t, out, `"branch": "main"`)

	again, err := Render("  Rolls back broken deployments  ", deployFailed)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestRender_NoDescription(t *testing.T) {
	out, err := Render("agent", event.New("ping", "", nil))
	require.NoError(t, err)
	assert.Contains(t, out, "- Event description: (none)")
	assert.Contains(t, out, "{}")
}

func TestRender_RequiresAgentDescription(t *testing.T) {
	_, err := Render("   ", deployFailed)
	assert.ErrorIs(t, err, ErrMissingAgentDescription)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	c := Retry(ContextualizerFunc(func(context.Context, string) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("rate limited")
		}
		return "ok", nil
	}), DefaultAttempts, WithInitialBackoff(time.Millisecond))

	out, err := c.Contextualize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetry_GivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	c := Retry(ContextualizerFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", boom
	}), DefaultAttempts, WithInitialBackoff(time.Millisecond), WithMaxBackoff(2*time.Millisecond))

	_, err := c.Contextualize(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(DefaultAttempts), calls.Load())
}

func TestRetry_BlankResultIsRetried(t *testing.T) {
	var calls atomic.Int32
	c := Retry(ContextualizerFunc(func(context.Context, string) (string, error) {
		if calls.Add(1) < 2 {
			return " \n\t ", nil
		}
		return "  Roll back build 101.  ", nil
	}), DefaultAttempts, WithInitialBackoff(time.Millisecond))

	out, err := c.Contextualize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Roll back build 101.", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	c := Retry(ContextualizerFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		cancel()
		return "", errors.New("boom")
	}), DefaultAttempts, WithInitialBackoff(time.Hour))

	_, err := c.Contextualize(ctx, "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerator(t *testing.T) {
	var seen string
	g := NewGenerator("Rolls back deployments", ContextualizerFunc(func(_ context.Context, p string) (string, error) {
		seen = p
		return "\n  Roll back build 101 on main.  \n", nil
	}))

	out, err := g.Generate(context.Background(), deployFailed)
	require.NoError(t, err)
	assert.Equal(t, "Roll back build 101 on main.", out)

	raw, err := g.Prompt(deployFailed)
	require.NoError(t, err)
	assert.Equal(t, raw, seen)
}

func TestGenerator_Failures(t *testing.T) {
	t.Run("missing description", func(t *testing.T) {
		var calls atomic.Int32
		g := NewGenerator("", ContextualizerFunc(func(context.Context, string) (string, error) {
			calls.Add(1)
			return "x", nil
		}))
		_, err := g.Generate(context.Background(), deployFailed)
		assert.ErrorIs(t, err, ErrMissingAgentDescription)
		assert.Zero(t, calls.Load())
	})

	t.Run("blank completion", func(t *testing.T) {
		var calls atomic.Int32
		g := NewGenerator("agent", ContextualizerFunc(func(context.Context, string) (string, error) {
			calls.Add(1)
			return "   ", nil
		}), WithInitialBackoff(time.Millisecond))
		_, err := g.Generate(context.Background(), deployFailed)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, ErrEmptyCompletion)
		assert.Equal(t, int32(DefaultAttempts), calls.Load())
	})

	t.Run("exhausted", func(t *testing.T) {
		var calls atomic.Int32
		g := NewGenerator("agent", ContextualizerFunc(func(context.Context, string) (string, error) {
			calls.Add(1)
			return "", errors.New("unavailable")
		}), WithInitialBackoff(time.Millisecond))
		_, err := g.Generate(context.Background(), deployFailed)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, int32(DefaultAttempts), calls.Load())
	})
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAI("gpt-4o-mini", option.WithBaseURL(server.URL+"/v1"), option.WithAPIKey("test"))
}

func TestOpenAI_Contextualize(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))

		var body json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		req := gjson.ParseBytes(body)
		assert.Equal(t, "gpt-4o-mini", req.Get("model").String())
		assert.Equal(t, "user", req.Get("messages.0.role").String())
		assert.Contains(t, req.Get("messages.0.content").Raw, "the prompt")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletion{
			ID: "cmpl-1",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Content: "Roll back build 101."},
			}},
		})
	})

	out, err := c.Contextualize(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "Roll back build 101.", out)
}

func TestOpenAI_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		var calls atomic.Int32
		c := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
		})
		_, err := c.Contextualize(context.Background(), "p")
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("blank content", func(t *testing.T) {
		c := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"  \n "}}]}`))
		})
		_, err := c.Contextualize(context.Background(), "p")
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})

	t.Run("no choices", func(t *testing.T) {
		c := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
		})
		_, err := c.Contextualize(context.Background(), "p")
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})
}

func TestModelFromEnv(t *testing.T) {
	t.Setenv("OPENAI_DEFAULT_MODEL", "")
	assert.Equal(t, DefaultModel, ModelFromEnv())
	t.Setenv("OPENAI_DEFAULT_MODEL", "gpt-4.1")
	assert.Equal(t, "gpt-4.1", ModelFromEnv())
}
