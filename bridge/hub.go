package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/shuttle/pkg/slogx"
	"github.com/casualjim/shuttle/pkg/uuidx"
)

// Hub is an in-process bridge. Clients join a pool when they connect and each
// published event reaches one connected member of every pool that listens for
// it. Members of a pool take turns.
type Hub struct {
	pools *haxmap.Map[string, *hubPool]
	log   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		pools: haxmap.New[string, *hubPool](),
		log:   slog.Default().With(slogx.LoggerName("shuttle.bridge.hub")),
	}
}

// Client returns a new, disconnected client that joins poolID on Connect. An
// empty pool id gives the client a pool of its own.
func (h *Hub) Client(poolID string) Client {
	if poolID == "" {
		poolID = uuidx.NewString()
	}
	return &hubClient{
		id:        uuidx.NewString(),
		hub:       h,
		pool:      poolID,
		callbacks: haxmap.New[string, Callback](),
	}
}

// Publish delivers data for eventName and returns how many clients received it.
// Callbacks run on the caller's goroutine.
func (h *Hub) Publish(ctx context.Context, eventName string, data []byte) int {
	var targets []*hubClient
	h.pools.ForEach(func(_ string, p *hubPool) bool {
		if c := p.pick(eventName); c != nil {
			targets = append(targets, c)
		}
		return true
	})

	delivered := 0
	for _, c := range targets {
		cb, ok := c.callbacks.Get(eventName)
		if !ok || !c.IsConnected() {
			continue
		}
		cb(ctx, slices.Clone(data))
		delivered++
	}
	h.log.Debug("event published", slog.String("event", eventName), slog.Int("deliveries", delivered))
	return delivered
}

type hubPool struct {
	mu      sync.Mutex
	members []*hubClient
	next    int
}

func (p *hubPool) join(c *hubClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members = append(p.members, c)
}

func (p *hubPool) leave(c *hubClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members = slices.DeleteFunc(p.members, func(m *hubClient) bool { return m == c })
}

// pick selects the next member listening for eventName.
func (p *hubPool) pick(eventName string) *hubClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	for range len(p.members) {
		c := p.members[p.next%len(p.members)]
		p.next++
		if _, ok := c.callbacks.Get(eventName); ok {
			return c
		}
	}
	return nil
}

var _ Client = (*hubClient)(nil)

type hubClient struct {
	id        string
	hub       *Hub
	pool      string
	connected atomic.Bool
	callbacks *haxmap.Map[string, Callback]
}

func (c *hubClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.connected.CompareAndSwap(false, true) {
		return nil
	}
	p, _ := c.hub.pools.GetOrCompute(c.pool, func() *hubPool { return &hubPool{} })
	p.join(c)
	c.hub.log.Debug("client joined", slog.String("pool_id", c.pool), slog.String("client", c.id))
	return nil
}

func (c *hubClient) Disconnect(context.Context) error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	if p, ok := c.hub.pools.Get(c.pool); ok {
		p.leave(c)
	}
	var names []string
	c.callbacks.ForEach(func(name string, _ Callback) bool {
		names = append(names, name)
		return true
	})
	c.callbacks.Del(names...)
	c.hub.log.Debug("client left", slog.String("pool_id", c.pool), slog.String("client", c.id))
	return nil
}

func (c *hubClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *hubClient) OnEvent(eventName string, cb Callback) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if _, loaded := c.callbacks.GetOrSet(eventName, cb); loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, eventName)
	}
	return nil
}
