package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/osrfmsg"
)

func newTestClient(t *testing.T, broker Broker, self addr.Address) *Client {
	t.Helper()
	return &Client{
		broker:  broker,
		self:    self,
		domain:  self.Domain,
		domains: make(map[string]*Client),
	}
}

func TestClientSendRecvRoundTrip(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	ctx := context.Background()

	from := addr.Client("user", "d", "opensrf.settings")
	to := addr.Service("router", "d", "opensrf.settings")

	sender := newTestClient(t, broker, from)
	receiver := newTestClient(t, broker, to)

	tm := osrfmsg.NewTransportMessage(to.String(), from.String(), "thread-1",
		osrfmsg.NewRequest(ctx, 1, "opensrf.system.echo", nil))

	require.NoError(t, sender.Send(ctx, tm))

	got, err := receiver.Recv(ctx, time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, to.String(), got.To)
	require.Equal(t, from.String(), got.From)
	require.Equal(t, "thread-1", got.Thread)
	require.Len(t, got.Body, 1)
}

func TestClientRecvNonBlockingTimeoutReturnsNil(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	c := newTestClient(t, broker, addr.Client("user", "d", "opensrf.settings"))

	got, err := c.Recv(context.Background(), 0, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestClientRecvFilterRejectsUnexpectedSender(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	ctx := context.Background()

	from := addr.Client("user", "d", "opensrf.settings")
	other := addr.Client("user", "d", "opensrf.settings")
	to := addr.Service("router", "d", "opensrf.settings")

	sender := newTestClient(t, broker, from)
	receiver := newTestClient(t, broker, to)

	tm := osrfmsg.NewTransportMessage(to.String(), from.String(), "thread-1",
		osrfmsg.NewRequest(ctx, 1, "opensrf.system.echo", nil))
	require.NoError(t, sender.Send(ctx, tm))

	_, err := receiver.Recv(ctx, time.Second, &other)
	require.Error(t, err)
}

func TestClientClearDropsBacklog(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	ctx := context.Background()
	self := addr.Client("user", "d", "opensrf.settings")
	c := newTestClient(t, broker, self)

	require.NoError(t, broker.Publish(ctx, self.String(), []byte(`{"bad":true}`)))
	require.NoError(t, c.Clear(ctx))

	got, err := c.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestClientDomainBusMemoizesSameDomain(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	c := newTestClient(t, broker, addr.Client("user", "d", "opensrf.settings"))
	c.domain = "d"

	dc, err := c.DomainBus(context.Background(), "d")
	require.NoError(t, err)
	require.Same(t, c, dc)
}
