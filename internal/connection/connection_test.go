package connection

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/clock"
	"github.com/ocx/gateway/internal/events"
)

func newTestConn(t *testing.T, subs ...chan events.Event) (*Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	c := New(Config{
		Conn:        server,
		Pool:        bufpool.New(65536),
		MaxFrame:    4096,
		Clock:       clock.Default,
		Subscribers: subs,
	})
	return c, client
}

func TestNewStartsConnectingGuest(t *testing.T) {
	c, _ := newTestConn(t)
	assert.Equal(t, Connecting, c.State())
	assert.Equal(t, Guest, c.Authority())
	assert.NotEmpty(t, c.ID)
}

func TestHandshakeAndAuthenticateFlow(t *testing.T) {
	cA, _ := newTestConn(t)
	privA, pubA, err := cA.BeginHandshake()
	require.NoError(t, err)

	cB, _ := newTestConn(t)
	privB, pubB, err := cB.BeginHandshake()
	require.NoError(t, err)

	require.NoError(t, cA.CompleteHandshake(privA, pubB))
	require.NoError(t, cB.CompleteHandshake(privB, pubA))
	assert.Equal(t, Connected, cA.State())
	assert.Equal(t, Connected, cB.State())

	require.NoError(t, cA.Authenticate(User))
	assert.Equal(t, Authenticated, cA.State())
	assert.Equal(t, User, cA.Authority())
}

func TestAuthenticateBeforeConnectedFails(t *testing.T) {
	c, _ := newTestConn(t)
	err := c.Authenticate(User)
	require.Error(t, err)
	assert.Equal(t, Connecting, c.State())
}

func TestMetaRoundTrip(t *testing.T) {
	c, _ := newTestConn(t)
	_, ok := c.Meta("missing")
	assert.False(t, ok)

	c.SetMeta("k", 42)
	v, ok := c.Meta("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	c.DeleteMeta("k")
	_, ok = c.Meta("k")
	assert.False(t, ok)
}

func TestRecordPingUpdatesLastPingTime(t *testing.T) {
	c, _ := newTestConn(t)
	assert.Zero(t, c.LastPingTime())
	c.RecordPing()
	assert.NotZero(t, c.LastPingTime())
}

func TestOnPacketCachedPushesFifoAndPublishesProcess(t *testing.T) {
	ch := make(chan events.Event, 4)
	c, _ := newTestConn(t, ch)

	c.onPacketCached([]byte("payload"))

	ev := <-ch
	assert.Equal(t, events.Process, ev.Kind)
	assert.Equal(t, []byte("payload"), ev.Payload)

	got, ok := c.PopIncoming()
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestDisposeIsIdempotent(t *testing.T) {
	c, _ := newTestConn(t)
	require.NoError(t, c.Dispose())
	require.NoError(t, c.Dispose())
	assert.Equal(t, Disconnected, c.State())
}

func TestSendRejectsBelowMinimumLength(t *testing.T) {
	c, client := newTestConn(t)
	defer client.Close()

	_, err := c.Send([]byte("short"))
	require.Error(t, err)
}
