package dispatcher

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/clock"
	"github.com/ocx/gateway/internal/codec"
	"github.com/ocx/gateway/internal/connection"
	"github.com/ocx/gateway/internal/gatewayerr"
)

func newTestConnection(t *testing.T) *connection.Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return connection.New(connection.Config{
		Conn:  server,
		Pool:  bufpool.New(65536),
		Clock: clock.Default,
	})
}

type stubLimiter struct {
	allow bool
}

func (s stubLimiter) TryDownload(n int) error {
	if s.allow {
		return nil
	}
	return gatewayerr.New(gatewayerr.KindRateLimited, "stub", nil)
}

func TestRegisterRejectsDuplicateOpcode(t *testing.T) {
	d := New()
	handler := func(ctx context.Context, c *connection.Connection, pkt *codec.Packet) ([]byte, error) {
		return nil, nil
	}
	require.NoError(t, d.Register(1, handler, Policy{}))

	err := d.Register(1, handler, Policy{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.ConfigInvalid))
}

func TestDispatchUnknownOpcode(t *testing.T) {
	d := New()
	conn := newTestConnection(t)

	_, err := d.Dispatch(context.Background(), conn, &codec.Packet{Header: codec.Header{ID: 99}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.UnknownOpCode))
}

func TestDispatchEnforcesRequiredAuthority(t *testing.T) {
	d := New()
	called := false
	handler := func(ctx context.Context, c *connection.Connection, pkt *codec.Packet) ([]byte, error) {
		called = true
		return nil, nil
	}
	require.NoError(t, d.Register(1, handler, Policy{RequiredAuthority: connection.Admin}))

	conn := newTestConnection(t)
	_, err := d.Dispatch(context.Background(), conn, &codec.Packet{Header: codec.Header{ID: 1}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.PermissionDenied))
	assert.False(t, called)
}

func TestDispatchEnforcesEncryptionRequirement(t *testing.T) {
	d := New()
	handler := func(ctx context.Context, c *connection.Connection, pkt *codec.Packet) ([]byte, error) {
		return nil, nil
	}
	require.NoError(t, d.Register(1, handler, Policy{RequireEncrypted: true}))

	conn := newTestConnection(t)
	_, err := d.Dispatch(context.Background(), conn, &codec.Packet{Header: codec.Header{ID: 1}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.NotEncrypted))
}

func TestDispatchEnforcesRateLimit(t *testing.T) {
	d := New()
	handler := func(ctx context.Context, c *connection.Connection, pkt *codec.Packet) ([]byte, error) {
		return nil, nil
	}
	require.NoError(t, d.Register(1, handler, Policy{}))

	conn := newTestConnection(t)
	_, err := d.Dispatch(context.Background(), conn, &codec.Packet{Header: codec.Header{ID: 1}}, stubLimiter{allow: false})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.RateLimited))
}

func TestDispatchReturnsHandlerReply(t *testing.T) {
	d := New()
	want := []byte("reply")
	handler := func(ctx context.Context, c *connection.Connection, pkt *codec.Packet) ([]byte, error) {
		return want, nil
	}
	require.NoError(t, d.Register(1, handler, Policy{}))

	conn := newTestConnection(t)
	got, err := d.Dispatch(context.Background(), conn, &codec.Packet{Header: codec.Header{ID: 1}}, stubLimiter{allow: true})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDispatchTimesOutSlowHandler(t *testing.T) {
	d := New()
	handler := func(ctx context.Context, c *connection.Connection, pkt *codec.Packet) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	require.NoError(t, d.Register(1, handler, Policy{Timeout: 10 * time.Millisecond}))

	conn := newTestConnection(t)
	_, err := d.Dispatch(context.Background(), conn, &codec.Packet{Header: codec.Header{ID: 1}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.HandlerTimeout))
}
