package publisher

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/casualjim/shuttle/bridge"
	"github.com/casualjim/shuttle/event"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	sopts := natsserver.DefaultTestOptions
	sopts.Port = -1
	sopts.JetStream = true
	sopts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&sopts)
	t.Cleanup(srv.Shutdown)

	host, portStr, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	pub, err := New("orders-service", Params{Host: host, Port: port})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload := event.New("order.created", "a new order was placed", map[string]any{"id": 42})
	require.NoError(t, pub.Publish(ctx, payload))
	require.NoError(t, pub.Publish(ctx, payload))

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, bridge.DefaultBrokerQueue)
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
	assert.Equal(t, jetstream.FileStorage, info.Config.Storage)

	msg, err := stream.GetMsg(ctx, 1)
	require.NoError(t, err)
	decoded, err := event.Decode(msg.Data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestPublish_InvalidPayload(t *testing.T) {
	pub, err := New("svc", Params{Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), event.Payload{})
	assert.ErrorIs(t, err, event.ErrInvalidPayload)
}

func TestPublish_BrokerUnreachable(t *testing.T) {
	pub, err := New("svc", Params{Host: "127.0.0.1", Port: 1},
		WithNATSOptions([]nats.Option{nats.Timeout(100 * time.Millisecond)}))
	require.NoError(t, err)

	err = pub.Publish(context.Background(), event.New("x", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestNew_RequiresName(t *testing.T) {
	_, err := New("", Params{})
	assert.Error(t, err)
}
