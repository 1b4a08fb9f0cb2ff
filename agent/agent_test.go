package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/shuttle"
	"github.com/casualjim/shuttle/event"
	"github.com/casualjim/shuttle/types"
	"github.com/goccy/go-json"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server.URL + "/v1"
}

func testAgent(baseURL string, options ...Option) *Agent {
	return New(append([]Option{
		Name("ops"),
		Model("gpt-4o-mini"),
		RequestOptions(option.WithBaseURL(baseURL), option.WithAPIKey("test")),
	}, options...)...)
}

func TestNewAgent(t *testing.T) {
	a := New(Name("ops"), Model("gpt-4o"), Instructions("watch {{ .event_name }}"))

	assert.Equal(t, "ops", a.Name())
	assert.Equal(t, "gpt-4o", a.Model())
	assert.Equal(t, "watch {{ .event_name }}", a.Instructions())
	assert.Equal(t, shuttle.KindAsync, a.Handler().Kind())

	d := New()
	assert.Equal(t, "default", d.Name())
	assert.Equal(t, DefaultInstructions, d.Instructions())
	assert.NotEmpty(t, d.Model())
}

func TestRenderInstructions(t *testing.T) {
	cv := types.FromPayload(event.New("deploy.failed", "CI pipeline", map[string]any{"build": 101}))

	t.Run("no template variables", func(t *testing.T) {
		result, err := New(Instructions("simple instructions")).RenderInstructions(cv)
		require.NoError(t, err)
		assert.Equal(t, "simple instructions", result)
	})

	t.Run("with template variables", func(t *testing.T) {
		result, err := New(Instructions("Handle {{ .event_name }} for build {{ .event_data.build }}")).RenderInstructions(cv)
		require.NoError(t, err)
		assert.Equal(t, "Handle deploy.failed for build 101", result)
	})

	t.Run("with invalid template", func(t *testing.T) {
		_, err := New(Instructions("Hello {{.Name")).RenderInstructions(cv)
		require.Error(t, err)
	})

	t.Run("with missing variable", func(t *testing.T) {
		_, err := New(Instructions("Hello {{ .missing }}")).RenderInstructions(cv)
		require.Error(t, err)
	})
}

func TestAgent_Run(t *testing.T) {
	var body []byte
	baseURL := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletion{
			ID: "test-id",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "  Rolled back build 101\n"}},
			},
		})
	})

	a := testAgent(baseURL, Instructions("You handle {{ .event_name }} events."))
	out, err := a.Run(context.Background(), "Build 101 failed, roll it back.", event.New("deploy.failed", "CI pipeline", map[string]any{"build": 101}))
	require.NoError(t, err)
	assert.Equal(t, "Rolled back build 101", out)

	req := gjson.ParseBytes(body)
	assert.Equal(t, "gpt-4o-mini", req.Get("model").String())
	assert.Equal(t, "system", req.Get("messages.0.role").String())
	assert.Contains(t, req.Get("messages.0.content").Raw, "You handle deploy.failed events.")
	assert.Equal(t, "user", req.Get("messages.1.role").String())
	assert.Contains(t, req.Get("messages.1.content").Raw, "Build 101 failed, roll it back.")
}

func TestAgent_RunAsHandler(t *testing.T) {
	baseURL := setupTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "done"}}},
		})
	})

	out, err := testAgent(baseURL).Handler().Invoke(context.Background(), "do it", event.New("x", "", nil))
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestAgent_RunErrors(t *testing.T) {
	t.Run("empty response", func(t *testing.T) {
		baseURL := setupTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(openai.ChatCompletion{
				Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "   "}}},
			})
		})
		_, err := testAgent(baseURL).Run(context.Background(), "do it", event.New("x", "", nil))
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("server error", func(t *testing.T) {
		baseURL := setupTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		})
		_, err := testAgent(baseURL).Run(context.Background(), "do it", event.New("x", "", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat completion failed")
	})

	t.Run("bad instructions", func(t *testing.T) {
		_, err := testAgent("http://127.0.0.1:1/v1", Instructions("{{ .nope }}")).Run(context.Background(), "do it", event.New("x", "", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "render instructions")
	})
}

func TestAgent_RunStreaming(t *testing.T) {
	chunks := []openai.ChatCompletionChunk{
		{ID: "test-id", Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkChoicesDelta{Content: "Rolled back "}}}},
		{ID: "test-id", Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatCompletionChunkChoicesDelta{Content: "build 101"}}}},
	}

	baseURL := setupTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		for _, chunk := range chunks {
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
		_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	})

	out, err := testAgent(baseURL, Streaming(true)).Run(context.Background(), "do it", event.New("deploy.failed", "", nil))
	require.NoError(t, err)
	assert.Equal(t, "Rolled back build 101", out)
}

func TestRegistry(t *testing.T) {
	a := New(Name("registered"))
	Add(a)
	t.Cleanup(func() { Del("registered") })

	got, ok := Get("registered")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Contains(t, Names(), "registered")

	Del("registered")
	_, ok = Get("registered")
	assert.False(t, ok)
}

func TestAgent_RunMakesSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	baseURL := setupTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})

	_, err := testAgent(baseURL).Run(context.Background(), "Handle deploy.failed", event.New("deploy.failed", "", nil))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
