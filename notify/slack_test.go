package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackConfig_Validate(t *testing.T) {
	err := SlackConfig{AgentDescription: "agent", ChannelName: "#ops"}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "bot_token")

	_, err = NewSlack(SlackConfig{})
	require.Error(t, err)
	for _, field := range []string{"agent_description", "bot_token", "channel_name"} {
		assert.Contains(t, err.Error(), field)
	}
}

type slackAPI struct {
	mu      sync.Mutex
	channel string
	text    string
}

func newSlackAPI(t *testing.T, ok bool) (*slackAPI, *httptest.Server) {
	t.Helper()
	api := &slackAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		api.mu.Lock()
		api.channel = r.FormValue("channel")
		api.text = r.FormValue("text")
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func TestSlack_Fire(t *testing.T) {
	api, srv := newSlackAPI(t, true)

	s, err := NewSlack(SlackConfig{
		AgentDescription: "Deploy watcher",
		BotToken:         "xoxb-test",
		ChannelName:      "#ops",
		APIURL:           srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "SlackNotificationChannel", s.Name())

	require.True(t, s.Fire(context.Background(), "**Rolled back** build 101"))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "#ops", api.channel)
	assert.Contains(t, api.text, "*🚀 Notification from ADS (Agent Data Shuttle)*")
	assert.Contains(t, api.text, "*Rolled back* build 101")
	assert.Contains(t, api.text, "*Triggered Agent's Description:* Deploy watcher")
	assert.NotContains(t, api.text, "**")
}

func TestSlack_FireRejected(t *testing.T) {
	_, srv := newSlackAPI(t, false)

	s, err := NewSlack(SlackConfig{
		AgentDescription: "Deploy watcher",
		BotToken:         "xoxb-test",
		ChannelName:      "#missing",
		APIURL:           srv.URL,
	})
	require.NoError(t, err)
	assert.False(t, s.Fire(context.Background(), "body"))
}
