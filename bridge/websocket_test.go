package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer accepts bridge connections and lets tests push frames.
type wsServer struct {
	*httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
	paths []string
	pools []string
	ready chan struct{}
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{ready: make(chan struct{}, 10)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.paths = append(s.paths, r.URL.Path)
		s.pools = append(s.pools, r.URL.Query().Get("pool"))
		s.mu.Unlock()
		s.ready <- struct{}{}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) send(t *testing.T, frame any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		require.NoError(t, c.WriteJSON(frame))
	}
}

func (s *wsServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func TestWebSocket_DeliversFrames(t *testing.T) {
	srv := newWSServer(t)
	ctx := testContext(t)

	c, err := NewWebSocket(Params{ConnectionString: srv.url(), PoolID: "pool-a"})
	require.NoError(t, err)
	assert.ErrorIs(t, c.OnEvent(DefaultEvent, newInbox().callback), ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Disconnect(ctx) })
	<-srv.ready

	assert.Equal(t, []string{"/ads_bridge/ws"}, srv.paths)
	assert.Equal(t, []string{"pool-a"}, srv.pools)

	box := newInbox()
	require.NoError(t, c.OnEvent(DefaultEvent, box.callback))
	assert.ErrorIs(t, c.OnEvent(DefaultEvent, box.callback), ErrAlreadyRegistered)

	srv.send(t, Frame{Event: DefaultEvent, Data: map[string]any{"event_name": "order.created"}})
	srv.send(t, Frame{Event: DefaultEvent, Data: `{"event_name":"as-string"}`})
	srv.send(t, Frame{Event: "something_else", Data: "ignored"})

	box.waitFor(t, 2)
	msgs := box.messages()
	assert.JSONEq(t, `{"event_name":"order.created"}`, msgs[0])
	assert.JSONEq(t, `{"event_name":"as-string"}`, msgs[1])
}

func TestWebSocket_ConnectionLossResetsState(t *testing.T) {
	srv := newWSServer(t)
	ctx := testContext(t)

	c, err := NewWebSocket(Params{ConnectionString: srv.url()})
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx))
	<-srv.ready
	assert.True(t, c.IsConnected())

	srv.dropAll()
	assert.Eventually(t, func() bool { return !c.IsConnected() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Disconnect(ctx))
}

func TestWebSocket_ConnectFailure(t *testing.T) {
	c, err := NewWebSocket(Params{ConnectionString: "ws://127.0.0.1:1"})
	require.NoError(t, err)

	err = c.Connect(testContext(t))
	require.Error(t, err)
	assert.False(t, c.IsConnected())
}
