package controllers

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/clock"
	"github.com/ocx/gateway/internal/codec"
	"github.com/ocx/gateway/internal/connection"
	"github.com/ocx/gateway/internal/dispatcher"
	"github.com/ocx/gateway/internal/gatewayerr"
	"github.com/ocx/gateway/internal/security"
)

// confirmationPhrase is the fixed plaintext CompleteHandshake expects to
// find after decrypting the client's confirmation frame with the freshly
// derived session key. It proves the client derived the same key the
// server did without ever putting the key itself on the wire.
var confirmationPhrase = []byte("ocx-gateway-handshake-ok")

const (
	metaHandshakePriv     = "handshake_priv"
	metaHandshakePeerPub  = "handshake_peer_pub"
	metaHandshakeNonce    = "handshake_nonce"
	handshakeStartPayload = security.KeySize + 8 // peer pubkey + 8-byte client nonce
)

// HandshakeController implements StartHandshake/CompleteHandshake per
// spec.md §4.8, including replay protection on the client nonce and storing
// the server's ephemeral private key in the connection's metadata bag
// between the two round trips.
type HandshakeController struct {
	pool    *bufpool.Pool
	clk     clock.Clock
	log     *slog.Logger
	timeout time.Duration
}

// NewHandshakeController registers the handshake opcodes on d.
func NewHandshakeController(d *dispatcher.Dispatcher, pool *bufpool.Pool, clk clock.Clock, log *slog.Logger, timeout time.Duration) (*HandshakeController, error) {
	if clk == nil {
		clk = clock.Default
	}
	if log == nil {
		log = slog.Default()
	}
	hc := &HandshakeController{pool: pool, clk: clk, log: log, timeout: timeout}

	policy := dispatcher.Policy{RequiredAuthority: connection.Guest, RequireEncrypted: false, Timeout: timeout}
	if err := d.Register(OpStartHandshake, hc.handleStart, policy); err != nil {
		return nil, err
	}
	if err := d.Register(OpCompleteHandshake, hc.handleComplete, policy); err != nil {
		return nil, err
	}
	return hc, nil
}

func (hc *HandshakeController) handleStart(ctx context.Context, conn *connection.Connection, pkt *codec.Packet) ([]byte, error) {
	if pkt.Header.Type != codec.TypeBinary {
		return nil, gatewayerr.New(gatewayerr.KindMalformed, "controllers.handleStart", nil)
	}
	if len(pkt.Payload) != handshakeStartPayload {
		return nil, gatewayerr.New(gatewayerr.KindMalformed, "controllers.handleStart", nil)
	}

	var peerPub [security.KeySize]byte
	copy(peerPub[:], pkt.Payload[:security.KeySize])
	clientNonce := binary.LittleEndian.Uint64(pkt.Payload[security.KeySize:])

	if prior, ok := conn.Meta(metaHandshakeNonce); ok {
		if prior.(uint64) >= clientNonce {
			return nil, gatewayerr.New(gatewayerr.KindAuthenticationFailed, "controllers.handleStart", nil)
		}
	}
	conn.SetMeta(metaHandshakeNonce, clientNonce)

	priv, pub, err := conn.BeginHandshake()
	if err != nil {
		return nil, err
	}
	conn.SetMeta(metaHandshakePriv, priv)
	conn.SetMeta(metaHandshakePeerPub, peerPub)

	payload := make([]byte, security.KeySize+8)
	copy(payload, pub[:])
	binary.LittleEndian.PutUint64(payload[security.KeySize:], clientNonce)

	return hc.encodeReply(OpStartHandshake, payload)
}

func (hc *HandshakeController) handleComplete(ctx context.Context, conn *connection.Connection, pkt *codec.Packet) ([]byte, error) {
	privAny, ok := conn.Meta(metaHandshakePriv)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindAuthenticationFailed, "controllers.handleComplete", nil)
	}
	peerPubAny, ok := conn.Meta(metaHandshakePeerPub)
	if !ok {
		return nil, gatewayerr.New(gatewayerr.KindAuthenticationFailed, "controllers.handleComplete", nil)
	}
	priv := privAny.([security.KeySize]byte)
	peerPub := peerPubAny.([security.KeySize]byte)

	if err := conn.CompleteHandshake(priv, peerPub); err != nil {
		return nil, err
	}
	conn.ArmDecryption()

	plain, err := conn.DecryptWithSessionKey(pkt.Payload)
	if err != nil || !equalBytes(plain, confirmationPhrase) {
		conn.DeleteMeta(metaHandshakePriv)
		conn.DeleteMeta(metaHandshakePeerPub)
		return nil, gatewayerr.New(gatewayerr.KindAuthenticationFailed, "controllers.handleComplete", err)
	}

	conn.DeleteMeta(metaHandshakePriv)
	conn.DeleteMeta(metaHandshakePeerPub)

	if err := conn.Authenticate(connection.User); err != nil {
		return nil, err
	}

	return hc.encodeReply(OpCompleteHandshake, confirmationPhrase)
}

func (hc *HandshakeController) encodeReply(opcode uint16, payload []byte) ([]byte, error) {
	pkt := &codec.Packet{
		Header: codec.Header{
			ID:        opcode,
			Timestamp: hc.clk.UnixMilliNow(),
			Checksum:  codec.CRC32(payload),
			Type:      codec.TypeBinary,
		},
		Payload: payload,
	}
	return codec.Encode(pkt, hc.pool)
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
