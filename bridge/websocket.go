package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var _ Client = (*WebSocket)(nil)

// Frame is the JSON envelope of one event on the WebSocket transport.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WebSocket is a bridge client that reads event frames from a WebSocket
// endpoint. It does not reconnect on its own.
type WebSocket struct {
	endpoint string
	dialer   *websocket.Dialer
	log      *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	callbacks *haxmap.Map[string, Callback]
}

// NewWebSocket creates a WebSocket bridge client.
func NewWebSocket(params Params) (*WebSocket, error) {
	endpoint, err := websocketEndpoint(params)
	if err != nil {
		return nil, err
	}
	return &WebSocket{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		log: slog.Default().With(
			slogx.LoggerName("shuttle.bridge.websocket"),
			slog.String("pool_id", params.PoolID),
		),
		callbacks: haxmap.New[string, Callback](),
	}, nil
}

func websocketEndpoint(params Params) (string, error) {
	u, err := url.Parse(params.ConnectionString)
	if err != nil {
		return "", fmt.Errorf("invalid bridge connection string: %w", err)
	}
	u.Path = params.Prefix() + "/ws"
	if params.PoolID != "" {
		q := u.Query()
		q.Set("pool", params.PoolID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		return nil
	}

	conn, _, err := w.dialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		w.log.Error("bridge connection failed", slogx.Error(err))
		return fmt.Errorf("connect to %s: %w", w.endpoint, err)
	}

	w.conn = conn
	w.done = make(chan struct{})
	go w.readLoop(conn, w.done)
	w.log.Info("bridge connected", slog.String("url", w.endpoint))
	return nil
}

func (w *WebSocket) Disconnect(_ context.Context) error {
	w.mu.Lock()
	conn, done := w.conn, w.done
	w.conn, w.done = nil, nil
	w.callbacks = haxmap.New[string, Callback]()
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	w.log.Info("bridge disconnected")
	return err
}

func (w *WebSocket) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *WebSocket) OnEvent(eventName string, cb Callback) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return ErrNotConnected
	}
	if _, loaded := w.callbacks.GetOrSet(eventName, cb); loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, eventName)
	}
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				w.log.Warn("bridge connection lost", slogx.Error(err))
			}
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			return
		}
		w.dispatch(data)
	}
}

func (w *WebSocket) dispatch(frame []byte) {
	if !gjson.ValidBytes(frame) {
		w.log.Warn("dropping malformed bridge frame", slogx.Truncate("frame", string(frame), 256))
		return
	}
	name := gjson.GetBytes(frame, "event").String()

	w.mu.Lock()
	cb, ok := w.callbacks.Get(name)
	w.mu.Unlock()
	if !ok {
		w.log.Debug("no callback for bridge event", slog.String("event", name))
		return
	}

	data := gjson.GetBytes(frame, "data")
	if data.Type == gjson.String {
		cb(context.Background(), []byte(data.String()))
		return
	}
	cb(context.Background(), []byte(data.Raw))
}
