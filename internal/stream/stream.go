// Package stream implements the per-connection framed I/O loop of spec.md
// §4.4: a 2-byte length-prefixed receive loop backed by a pooled buffer, and
// a send path that enforces the minimum message length contract and records
// outgoing frames in the connection's dedup cache.
package stream

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/gatewayerr"
)

// lengthPrefixSize is the 2-byte frame-length prefix read before the body.
const lengthPrefixSize = 2

// minSyncSendLen and minAsyncSendLen are the minimum payload length
// contracts from spec.md §4.4.
const (
	minSyncSendLen  = 9
	minAsyncSendLen = 1
)

// TransformFunc maps raw received bytes to the application payload — the
// Connection plugs in AEAD decryption here once authenticated, or an
// identity function beforehand.
type TransformFunc func([]byte) ([]byte, error)

// Callbacks are installed once at construction (spec.md §9: no runtime
// mutation of subscriber lists).
type Callbacks struct {
	// OnDataReceived fires with the raw payload before any cache insertion,
	// mirroring the "data received" signal.
	OnDataReceived func(payload []byte)
	// OnPacketCached fires with the transformed application payload; the
	// Connection is responsible for pushing it into its incoming FIFO and
	// raising the Process event, so the push/drop bookkeeping lives there
	// rather than in the stream handler.
	OnPacketCached func(payload []byte)
}

// Handler owns one net.Conn and drives its framed receive loop and send
// path. A single write mutex serializes sends so a frame write is atomic
// with respect to other writers on the same stream (spec.md §5).
type Handler struct {
	conn      net.Conn
	pool      *bufpool.Pool
	maxFrame  int
	transform TransformFunc
	cb        Callbacks
	log       *slog.Logger

	writeMu sync.Mutex
	recvBuf []byte

	dedupMu sync.Mutex
	dedup   map[[9]byte]struct{}
	order   [][9]byte

	disposed bool
	disposeM sync.Mutex
}

// Config bundles Handler construction parameters.
type Config struct {
	Conn      net.Conn
	Pool      *bufpool.Pool
	MaxFrame  int
	Transform TransformFunc
	Callbacks Callbacks
	Logger    *slog.Logger
}

// New creates a Handler ready to BeginReceive.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transform := cfg.Transform
	if transform == nil {
		transform = func(b []byte) ([]byte, error) { return b, nil }
	}
	return &Handler{
		conn:      cfg.Conn,
		pool:      cfg.Pool,
		maxFrame:  cfg.MaxFrame,
		transform: transform,
		cb:        cfg.Callbacks,
		log:       logger,
		recvBuf:   cfg.Pool.Rent(4096),
		dedup:     make(map[[9]byte]struct{}, 20),
	}
}

// SetTransform swaps the active transform, used when a Connection's state
// changes between plaintext and AEAD-protected.
func (h *Handler) SetTransform(t TransformFunc) {
	if t == nil {
		t = func(b []byte) ([]byte, error) { return b, nil }
	}
	h.transform = t
}

// BeginReceive runs the framed read loop until the peer closes the
// connection, a malformed/oversized frame is seen, or ctx is canceled. It
// never returns an error for an orderly shutdown (io.EOF on the length
// prefix); other failures are returned so the caller can log/dispose.
func (h *Handler) BeginReceive(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return gatewayerr.New(gatewayerr.KindCanceled, "stream.BeginReceive", err)
		}

		lengthBuf := make([]byte, lengthPrefixSize)
		n, err := io.ReadFull(h.conn, lengthBuf)
		if err != nil {
			if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
				return nil // orderly shutdown
			}
			if err == io.ErrUnexpectedEOF {
				return nil // fewer than 2 bytes: orderly shutdown per spec.md §4.4
			}
			return gatewayerr.New(gatewayerr.KindReadError, "stream.BeginReceive", err)
		}

		length := int(binary.LittleEndian.Uint16(lengthBuf))
		if length > h.maxFrame {
			h.log.Warn("frame exceeds max size, stopping receive loop", "length", length, "max", h.maxFrame)
			return gatewayerr.New(gatewayerr.KindPayloadTooLarge, "stream.BeginReceive", nil)
		}
		if length > len(h.recvBuf) {
			h.growRecvBuf(length)
		}

		total := 0
		for total < length {
			m, err := h.conn.Read(h.recvBuf[total:length])
			if err != nil {
				if err == io.EOF {
					return nil // shutdown mid-frame
				}
				return gatewayerr.New(gatewayerr.KindReadError, "stream.BeginReceive", err)
			}
			if m == 0 {
				return nil
			}
			total += m
		}

		raw := make([]byte, length)
		copy(raw, h.recvBuf[:length])

		if h.cb.OnDataReceived != nil {
			h.cb.OnDataReceived(raw)
		}

		payload, err := h.transform(raw)
		if err != nil {
			h.log.Warn("transform failed, dropping frame", "error", err)
			continue
		}

		if h.cb.OnPacketCached != nil {
			h.cb.OnPacketCached(payload)
		}
	}
}

func (h *Handler) growRecvBuf(size int) {
	h.pool.Return(h.recvBuf, false)
	h.recvBuf = h.pool.Rent(size)
}

// Send writes b synchronously, enforcing the minimum sync message length
// contract and recording the frame's fingerprint in the outgoing dedup
// cache before writing.
func (h *Handler) Send(b []byte) (bool, error) {
	return h.send(b, minSyncSendLen)
}

// SendAsync writes b, enforcing the looser async minimum length contract.
// ctx cancellation is observed before the write begins; net.Conn writes
// themselves aren't interruptible mid-call without a deadline, so a caller
// that needs hard cancellation should set a write deadline on the
// underlying conn.
func (h *Handler) SendAsync(ctx context.Context, b []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, gatewayerr.New(gatewayerr.KindCanceled, "stream.SendAsync", err)
	}
	return h.send(b, minAsyncSendLen)
}

func (h *Handler) send(b []byte, minLen int) (bool, error) {
	if len(b) < minLen {
		return false, gatewayerr.New(gatewayerr.KindMalformed, "stream.send", nil)
	}

	h.recordFingerprint(b)

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if _, err := h.conn.Write(b); err != nil {
		return false, gatewayerr.New(gatewayerr.KindWriteError, "stream.send", err)
	}
	return true, nil
}

func (h *Handler) recordFingerprint(b []byte) {
	var fp [9]byte
	n := len(b)
	for i := 0; i < 4 && i < n; i++ {
		fp[i] = b[i]
	}
	for i := 0; i < 5; i++ {
		idx := n - 5 + i
		if idx < 0 {
			continue
		}
		fp[4+i] = b[idx]
	}

	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()
	if _, ok := h.dedup[fp]; ok {
		return
	}
	if len(h.order) >= 20 {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.dedup, oldest)
	}
	h.order = append(h.order, fp)
	h.dedup[fp] = struct{}{}
}

// Dispose releases the pooled receive buffer and closes the underlying
// socket. Idempotent: subsequent calls are no-ops.
func (h *Handler) Dispose() error {
	h.disposeM.Lock()
	defer h.disposeM.Unlock()
	if h.disposed {
		return nil
	}
	h.disposed = true

	h.pool.Return(h.recvBuf, true)
	return h.conn.Close()
}
