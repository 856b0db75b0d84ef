package controllers

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/clock"
	"github.com/ocx/gateway/internal/codec"
	"github.com/ocx/gateway/internal/connection"
	"github.com/ocx/gateway/internal/dispatcher"
	"github.com/ocx/gateway/internal/gatewayerr"
)

// KeepAliveController implements Ping/Pong per spec.md §4.8. A Ping carries
// the client's send timestamp so the reply Pong lets the client measure
// round-trip time; the server also stamps last_ping_time on the connection.
type KeepAliveController struct {
	pool *bufpool.Pool
	clk  clock.Clock
	log  *slog.Logger
}

// NewKeepAliveController registers Ping and Pong on d. Ping requires
// Authenticated since it's only meaningful once a session exists; Pong is
// accepted from any state so a client can acknowledge a server-initiated
// keepalive before finishing its handshake confirmation.
func NewKeepAliveController(d *dispatcher.Dispatcher, pool *bufpool.Pool, clk clock.Clock, log *slog.Logger) (*KeepAliveController, error) {
	if clk == nil {
		clk = clock.Default
	}
	if log == nil {
		log = slog.Default()
	}
	kc := &KeepAliveController{pool: pool, clk: clk, log: log}

	pingPolicy := dispatcher.Policy{RequiredAuthority: connection.Guest, RequireEncrypted: true, Timeout: 2 * time.Second}
	if err := d.Register(OpPing, kc.handlePing, pingPolicy); err != nil {
		return nil, err
	}
	pongPolicy := dispatcher.Policy{RequiredAuthority: connection.Guest, RequireEncrypted: false, Timeout: 2 * time.Second}
	if err := d.Register(OpPong, kc.handlePong, pongPolicy); err != nil {
		return nil, err
	}
	return kc, nil
}

func (kc *KeepAliveController) handlePing(ctx context.Context, conn *connection.Connection, pkt *codec.Packet) ([]byte, error) {
	if len(pkt.Payload) != 8 {
		return nil, gatewayerr.New(gatewayerr.KindMalformed, "controllers.handlePing", nil)
	}
	conn.RecordPing()

	payload := make([]byte, 8)
	copy(payload, pkt.Payload)

	replyPkt := &codec.Packet{
		Header: codec.Header{
			ID:        OpPong,
			Timestamp: kc.clk.UnixMilliNow(),
			Checksum:  codec.CRC32(payload),
			Type:      codec.TypeBinary,
		},
		Payload: payload,
	}
	return codec.Encode(replyPkt, kc.pool)
}

func (kc *KeepAliveController) handlePong(ctx context.Context, conn *connection.Connection, pkt *codec.Packet) ([]byte, error) {
	conn.RecordPing()
	return nil, nil
}
