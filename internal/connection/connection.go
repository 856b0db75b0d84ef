package connection

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/clock"
	"github.com/ocx/gateway/internal/events"
	"github.com/ocx/gateway/internal/gatewayerr"
	"github.com/ocx/gateway/internal/security"
	"github.com/ocx/gateway/internal/stream"
)

// Uploader is the subset of firewall.Limiter the Connection charges outbound
// bytes against; kept as an interface so tests can stub it out.
type Uploader interface {
	TryUpload(n int) error
}

// Config bundles the collaborators a Connection needs at construction. Conn
// and Subscribers are per-connection; the other fields are shared,
// process-wide values handed down from the listener.
type Config struct {
	Conn     net.Conn
	Pool     *bufpool.Pool
	MaxFrame int
	Clock    clock.Clock
	Logger   *slog.Logger
	// Limiter charges every Send/SendAsync against the connection's upload
	// budget, per spec.md §4.7. May be nil to skip bandwidth limiting (e.g.
	// in tests).
	Limiter Uploader
	// Subscribers receives every event this connection publishes (dispatch
	// loop, admin stream, metrics). Installed once, per spec.md §9.
	Subscribers []chan events.Event
}

// Connection is one accepted socket's full runtime state: the framed I/O
// handler, the AEAD security manager, the lifecycle state machine, the
// incoming FIFO cache, and the connect-time metadata bag handshake handlers
// use to stash a private key between StartHandshake and CompleteHandshake
// (spec.md §4.5, §4.8).
type Connection struct {
	ID             string
	RemoteEndpoint string

	stream  *stream.Handler
	sec     *security.Manager
	state   *stateManager
	bus     *events.Bus
	clk     clock.Clock
	log     *slog.Logger
	limiter Uploader

	fifoMu sync.Mutex
	fifo   *incomingFIFO

	metaMu sync.Mutex
	meta   map[string]any

	tsMu         sync.Mutex
	createdAt    uint64
	lastPingTime uint64

	disposeOnce sync.Once
}

// New constructs a Connection over an already-accepted net.Conn. The
// connection starts in Connecting/Guest and does no I/O until Run is called.
func New(cfg Config) *Connection {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		ID:             uuid.NewString(),
		RemoteEndpoint: cfg.Conn.RemoteAddr().String(),
		sec:            security.NewManager(),
		state:          newStateManager(),
		bus:            events.NewBus(cfg.Subscribers...),
		clk:            clk,
		fifo:           newIncomingFIFO(),
		meta:           make(map[string]any),
		createdAt:      clk.UnixMilliNow(),
		limiter:        cfg.Limiter,
	}
	c.log = logger.With("conn_id", c.ID)

	c.stream = stream.New(stream.Config{
		Conn:     cfg.Conn,
		Pool:     cfg.Pool,
		MaxFrame: cfg.MaxFrame,
		Logger:   c.log,
		Callbacks: stream.Callbacks{
			OnDataReceived: c.onDataReceived,
			OnPacketCached: c.onPacketCached,
		},
	})
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state.State() }

// Authority returns the connection's current privilege level.
func (c *Connection) Authority() Authority { return c.state.Authority() }

// SetAuthority promotes or demotes the connection's privilege level, used by
// controllers after successful authentication.
func (c *Connection) SetAuthority(a Authority) { c.state.SetAuthority(a) }

// CreatedAt returns the connection's construction timestamp, ms since epoch.
func (c *Connection) CreatedAt() uint64 {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	return c.createdAt
}

// LastPingTime returns the timestamp of the most recently observed Ping.
func (c *Connection) LastPingTime() uint64 {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	return c.lastPingTime
}

// RecordPing stamps the current time as the last-seen ping.
func (c *Connection) RecordPing() {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	c.lastPingTime = c.clk.UnixMilliNow()
}

// SetMeta stashes a value in the connect-time metadata bag, e.g. the
// handshake controller's pending private key between StartHandshake and
// CompleteHandshake.
func (c *Connection) SetMeta(key string, value any) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	c.meta[key] = value
}

// Meta retrieves a previously stashed metadata value.
func (c *Connection) Meta(key string) (any, bool) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	v, ok := c.meta[key]
	return v, ok
}

// DeleteMeta removes a metadata entry, e.g. once a handshake completes.
func (c *Connection) DeleteMeta(key string) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	delete(c.meta, key)
}

// BeginHandshake generates a fresh ephemeral X25519 key pair for an
// exchange; the caller sends pub to the peer. No session key is derived
// here: CompleteHandshake does that.
func (c *Connection) BeginHandshake() (priv, pub [security.KeySize]byte, err error) {
	return security.GenerateKeyPair()
}

// CompleteHandshake derives the session AEAD key from a local private key
// and the peer's public key, then promotes the connection to Connected.
func (c *Connection) CompleteHandshake(priv, peerPub [security.KeySize]byte) error {
	if err := c.sec.DeriveSessionKeyFrom(priv, peerPub); err != nil {
		return err
	}
	if !c.state.CompareAndSetState(Connecting, Connected) {
		c.state.SetState(Connected)
	}
	return nil
}

// Authenticate promotes an already-Connected connection to Authenticated,
// enabling AEAD transform on the receive path.
func (c *Connection) Authenticate(level Authority) error {
	if !c.state.CompareAndSetState(Connected, Authenticated) {
		return gatewayerr.New(gatewayerr.KindPermissionDenied, "connection.Authenticate", nil)
	}
	c.state.SetAuthority(level)
	return nil
}

// Run starts the blocking receive loop. It returns when the peer
// disconnects, a fatal frame error occurs, or ctx is canceled.
func (c *Connection) Run(ctx context.Context) error {
	err := c.stream.BeginReceive(ctx)
	c.state.SetState(Disconnected)
	c.bus.Publish(events.Event{Kind: events.Close, ConnID: c.ID})
	return err
}

// Send synchronously writes a fully encoded frame. If the connection is
// Authenticated, the frame is AEAD-sealed first; otherwise it is sent
// plaintext. The StartHandshake reply therefore goes out plaintext, while the
// CompleteHandshake reply is sent after the connection has become
// Authenticated and is sealed.
func (c *Connection) Send(frame []byte) (bool, error) {
	out := frame
	if c.state.State() == Authenticated {
		sealed, err := c.sec.Encrypt(frame)
		if err != nil {
			return false, err
		}
		out = sealed
	}
	if c.limiter != nil {
		if err := c.limiter.TryUpload(len(out)); err != nil {
			return false, err
		}
	}
	ok, err := c.stream.Send(out)
	if err != nil {
		return ok, err
	}
	c.bus.Publish(events.Event{Kind: events.PostProcess, ConnID: c.ID, SentBytes: out})
	return ok, nil
}

// SendAsync is the looser-contract counterpart to Send, used for
// best-effort notifications (e.g. admin broadcasts) where a short payload
// is acceptable.
func (c *Connection) SendAsync(ctx context.Context, frame []byte) (bool, error) {
	out := frame
	if c.state.State() == Authenticated {
		sealed, err := c.sec.Encrypt(frame)
		if err != nil {
			return false, err
		}
		out = sealed
	}
	if c.limiter != nil {
		if err := c.limiter.TryUpload(len(out)); err != nil {
			return false, err
		}
	}
	return c.stream.SendAsync(ctx, out)
}

// PopIncoming removes and returns the oldest cached payload awaiting
// dispatch.
func (c *Connection) PopIncoming() ([]byte, bool) {
	c.fifoMu.Lock()
	defer c.fifoMu.Unlock()
	return c.fifo.Pop()
}

// PeekIncoming returns the oldest cached payload without removing it.
func (c *Connection) PeekIncoming() ([]byte, bool) {
	c.fifoMu.Lock()
	defer c.fifoMu.Unlock()
	return c.fifo.Peek()
}

func (c *Connection) onDataReceived(raw []byte) {
	if c.state.State() != Authenticated {
		return
	}
	// Transform is installed separately below via stream.SetTransform once
	// the handshake completes; onDataReceived itself is just the telemetry
	// hook spec.md §4.4 calls "data received".
	_ = raw
}

func (c *Connection) onPacketCached(payload []byte) {
	c.fifoMu.Lock()
	dropped := c.fifo.Push(payload)
	c.fifoMu.Unlock()
	if dropped {
		c.log.Warn("incoming FIFO overflow, oldest payload dropped")
	}
	c.bus.Publish(events.Event{Kind: events.Process, ConnID: c.ID, Payload: payload})
}

// ArmDecryption switches the stream handler's receive transform to AEAD
// decryption. Call once CompleteHandshake has derived a session key; a
// decrypt failure demotes the connection back to Connecting and fires an
// Error event rather than tearing down the socket, per spec.md §3.
func (c *Connection) ArmDecryption() {
	c.stream.SetTransform(func(raw []byte) ([]byte, error) {
		plain, err := c.sec.Decrypt(raw)
		if err != nil {
			c.sec.Reset()
			c.state.SetState(Connecting)
			c.bus.Publish(events.Event{
				Kind:        events.Error,
				ConnID:      c.ID,
				ErrorDetail: &events.ErrorInfo{Err: err, Fatal: false},
			})
			return nil, err
		}
		return plain, nil
	})
}

// DecryptWithSessionKey exposes the security manager's Decrypt for
// handlers that must verify a sealed payload sent before the receive
// loop's transform has been armed (the handshake confirmation frame).
func (c *Connection) DecryptWithSessionKey(ciphertext []byte) ([]byte, error) {
	return c.sec.Decrypt(ciphertext)
}

// Dispose releases the connection's resources exactly once.
func (c *Connection) Dispose() error {
	var err error
	c.disposeOnce.Do(func() {
		c.sec.Reset()
		c.state.SetState(Disconnected)
		err = c.stream.Dispose()
	})
	return err
}
