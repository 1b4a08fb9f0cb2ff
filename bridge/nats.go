package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/shuttle/pkg/natsx"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/nats-io/nats.go"
)

var _ Client = (*NATS)(nil)

// NATS is a bridge client on top of plain NATS subjects.
type NATS struct {
	params Params
	opts   []nats.Option
	log    *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs *haxmap.Map[string, *nats.Subscription]
}

// NewNATS creates a NATS bridge client. Extra options are passed to the NATS
// connection.
func NewNATS(params Params, opts ...nats.Option) *NATS {
	return &NATS{
		params: params,
		opts:   opts,
		log: slog.Default().With(
			slogx.LoggerName("shuttle.bridge.nats"),
			slog.String("pool_id", params.PoolID),
		),
		subs: haxmap.New[string, *nats.Subscription](),
	}
}

func (n *NATS) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil && n.conn.IsConnected() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
		n.subs = haxmap.New[string, *nats.Subscription]()
	}

	conn, err := natsx.NewClient(n.params.ConnectionString, "shuttle-bridge", n.log, n.opts...)
	if err != nil {
		n.conn = nil
		n.log.Error("bridge connection failed", slogx.Error(err))
		return err
	}
	n.conn = conn
	n.log.Info("bridge connected", slog.String("url", conn.ConnectedUrlRedacted()))
	return nil
}

func (n *NATS) Disconnect(_ context.Context) error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.subs = haxmap.New[string, *nats.Subscription]()
	n.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		n.log.Warn("bridge drain failed", slogx.Error(err))
	}
	n.log.Info("bridge disconnected")
	return nil
}

func (n *NATS) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil && n.conn.IsConnected()
}

func (n *NATS) OnEvent(eventName string, cb Callback) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil || !n.conn.IsConnected() {
		return ErrNotConnected
	}
	if _, exists := n.subs.Get(eventName); exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, eventName)
	}

	subject := n.params.Subject(eventName)
	handler := func(msg *nats.Msg) {
		cb(context.Background(), msg.Data)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if n.params.PoolID != "" {
		sub, err = n.conn.QueueSubscribe(subject, n.params.PoolID, handler)
	} else {
		sub, err = n.conn.Subscribe(subject, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	n.subs.Set(eventName, sub)
	n.log.Debug("listening for bridge events", slog.String("subject", subject))
	return nil
}
